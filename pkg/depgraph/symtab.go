package depgraph

// symbolTable provides bidirectional mapping between package names and the
// integer IDs used by the adjacency lists. Graphs are built single-threaded
// and then shared read-only, so no locking is needed here.
type symbolTable struct {
	strToID map[string]int
	idToStr []string
}

func newSymbolTable() *symbolTable {
	return &symbolTable{strToID: make(map[string]int)}
}

// intern returns the unique ID for name, assigning the next ID on first use.
func (t *symbolTable) intern(name string) int {
	if id, ok := t.strToID[name]; ok {
		return id
	}

	id := len(t.idToStr)
	t.idToStr = append(t.idToStr, name)
	t.strToID[name] = id

	return id
}

// lookup resolves name without interning. The second result reports presence.
func (t *symbolTable) lookup(name string) (int, bool) {
	id, ok := t.strToID[name]

	return id, ok
}

// resolve returns the name for id, or "" when id is out of range.
func (t *symbolTable) resolve(id int) string {
	if id < 0 || id >= len(t.idToStr) {
		return ""
	}

	return t.idToStr[id]
}

func (t *symbolTable) len() int { return len(t.idToStr) }
