package orderbook

type color uint8

const (
	red color = iota
	black
)

type node struct {
	key    int64
	level  *PriceLevel
	color  color
	left   *node
	right  *node
	parent *node
}

// RBTree indexes the price levels of one side. Keys are prices; "best"
// is the highest key for bids and the lowest for asks.
type RBTree struct {
	side Side
	root *node
	nil  *node // black sentinel
	size int
}

func NewRBTree(side Side) *RBTree {
	sentinel := &node{color: black}
	return &RBTree{side: side, root: sentinel, nil: sentinel}
}

func (t *RBTree) Size() int { return t.size }

func (t *RBTree) Find(price int64) *PriceLevel {
	if n := t.search(price); n != t.nil {
		return n.level
	}
	return nil
}

// Upsert returns the level at price, creating it when absent.
func (t *RBTree) Upsert(price int64) (lvl *PriceLevel, created bool) {
	y := t.nil
	x := t.root
	for x != t.nil {
		y = x
		switch {
		case price < x.key:
			x = x.left
		case price > x.key:
			x = x.right
		default:
			return x.level, false
		}
	}

	lvl = &PriceLevel{Price: price, Side: t.side}
	z := &node{key: price, level: lvl, color: red, left: t.nil, right: t.nil, parent: y}
	switch {
	case y == t.nil:
		t.root = z
	case z.key < y.key:
		y.left = z
	default:
		y.right = z
	}
	t.insertFixup(z)
	t.size++
	return lvl, true
}

func (t *RBTree) Delete(price int64) bool {
	z := t.search(price)
	if z == t.nil {
		return false
	}
	t.deleteNode(z)
	t.size--
	return true
}

// Best returns the most aggressive level, nil when the side is empty.
func (t *RBTree) Best() *PriceLevel {
	var n *node
	if t.side == Bid {
		n = t.maxNode(t.root)
	} else {
		n = t.minNode(t.root)
	}
	if n == t.nil {
		return nil
	}
	return n.level
}

// Behind returns the best level strictly worse than price.
func (t *RBTree) Behind(price int64) *PriceLevel {
	if t.side == Bid {
		return t.predecessor(price)
	}
	return t.successor(price)
}

// Walk visits levels best first until fn returns false.
func (t *RBTree) Walk(fn func(*PriceLevel) bool) {
	if t.side == Bid {
		for n := t.maxNode(t.root); n != t.nil; n = t.prev(n) {
			if !fn(n.level) {
				return
			}
		}
		return
	}
	for n := t.minNode(t.root); n != t.nil; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// Ascend visits levels by increasing price regardless of side.
func (t *RBTree) Ascend(fn func(*PriceLevel) bool) {
	for n := t.minNode(t.root); n != t.nil; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// Descend visits levels by decreasing price regardless of side.
func (t *RBTree) Descend(fn func(*PriceLevel) bool) {
	for n := t.maxNode(t.root); n != t.nil; n = t.prev(n) {
		if !fn(n.level) {
			return
		}
	}
}

// Min and Max ignore side semantics.
func (t *RBTree) Min() *PriceLevel {
	if n := t.minNode(t.root); n != t.nil {
		return n.level
	}
	return nil
}

func (t *RBTree) Max() *PriceLevel {
	if n := t.maxNode(t.root); n != t.nil {
		return n.level
	}
	return nil
}

/******************** internals ********************/

func (t *RBTree) search(price int64) *node {
	n := t.root
	for n != t.nil {
		switch {
		case price < n.key:
			n = n.left
		case price > n.key:
			n = n.right
		default:
			return n
		}
	}
	return t.nil
}

func (t *RBTree) successor(price int64) *PriceLevel {
	n, succ := t.root, t.nil
	for n != t.nil {
		if price < n.key {
			succ = n
			n = n.left
		} else {
			n = n.right
		}
	}
	if succ == t.nil {
		return nil
	}
	return succ.level
}

func (t *RBTree) predecessor(price int64) *PriceLevel {
	n, pred := t.root, t.nil
	for n != t.nil {
		if price > n.key {
			pred = n
			n = n.right
		} else {
			n = n.left
		}
	}
	if pred == t.nil {
		return nil
	}
	return pred.level
}

func (t *RBTree) minNode(n *node) *node {
	if n == t.nil {
		return t.nil
	}
	for n.left != t.nil {
		n = n.left
	}
	return n
}

func (t *RBTree) maxNode(n *node) *node {
	if n == t.nil {
		return t.nil
	}
	for n.right != t.nil {
		n = n.right
	}
	return n
}

func (t *RBTree) next(n *node) *node {
	if n.right != t.nil {
		return t.minNode(n.right)
	}
	p := n.parent
	for p != t.nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *RBTree) prev(n *node) *node {
	if n.left != t.nil {
		return t.maxNode(n.left)
	}
	p := n.parent
	for p != t.nil && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (t *RBTree) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree) rotateRight(y *node) {
	x := y.left
	y.left = x.right
	if x.right != t.nil {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == t.nil:
		t.root = x
	case y == y.parent.right:
		y.parent.right = x
	default:
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *RBTree) insertFixup(z *node) {
	for z.parent.color == red {
		gp := z.parent.parent
		if z.parent == gp.left {
			uncle := gp.right
			if uncle.color == red {
				z.parent.color, uncle.color, gp.color = black, black, red
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateRight(z.parent.parent)
		} else {
			uncle := gp.left
			if uncle.color == red {
				z.parent.color, uncle.color, gp.color = black, black, red
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateLeft(z.parent.parent)
		}
	}
	t.root.color = black
}

func (t *RBTree) transplant(u, v *node) {
	switch {
	case u.parent == t.nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree) deleteNode(z *node) {
	y := z
	yColor := y.color
	var x *node

	switch {
	case z.left == t.nil:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.nil:
		x = z.left
		t.transplant(z, z.left)
	default:
		y = t.minNode(z.right)
		yColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yColor == black {
		t.deleteFixup(x)
	}
}

func (t *RBTree) deleteFixup(x *node) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.right.color == black {
				w.left.color = black
				w.color = red
				t.rotateRight(w)
				w = x.parent.right
			}
			w.color = x.parent.color
			x.parent.color = black
			w.right.color = black
			t.rotateLeft(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.left.color == black {
				w.right.color = black
				w.color = red
				t.rotateLeft(w)
				w = x.parent.left
			}
			w.color = x.parent.color
			x.parent.color = black
			w.left.color = black
			t.rotateRight(x.parent)
			x = t.root
		}
	}
	x.color = black
}

// blackHeight validates red-black properties, returning -1 when broken.
func (t *RBTree) blackHeight(n *node) int {
	if n == t.nil {
		return 1
	}
	if n.color == red && (n.left.color == red || n.right.color == red) {
		return -1
	}
	if n.left != t.nil && n.left.key >= n.key || n.right != t.nil && n.right.key <= n.key {
		return -1
	}
	l, r := t.blackHeight(n.left), t.blackHeight(n.right)
	if l < 0 || r < 0 || l != r {
		return -1
	}
	if n.color == black {
		l++
	}
	return l
}
