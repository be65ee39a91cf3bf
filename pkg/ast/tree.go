package ast

// Tree is the serializable form of a node: {type, value, children}.
type Tree struct {
	Type     string  `json:"type"`
	Value    *string `json:"value"`
	Children []*Tree `json:"children"`
}

// ToTree converts the AST rooted at n into its serializable form.
func ToTree(n *Node) *Tree {
	if n == nil {
		return nil
	}
	t := &Tree{Type: n.Type.String(), Children: []*Tree{}}
	if v, ok := n.Value(); ok {
		t.Value = &v
	}
	for _, c := range n.Children() {
		t.Children = append(t.Children, ToTree(c))
	}
	return t
}
