package profiling

// CallTreeNode is a lazily built view over one function-info record.
type CallTreeNode interface {
	// PointerSize returns 4 or 8, the pointer width of the snapshot.
	PointerSize() int
	FunctionInfo() FunctionInfo
	// Parent returns nil for the root.
	Parent() CallTreeNode
	Depth() int
	Dataset() *Dataset

	NameMapping() NameMapping
	CallCount() int
	CPUCyclesSpent() int64
	ActiveCallCount() int
	// TimeSpent returns the time spent in milliseconds, or 0 if the
	// processor frequency is unknown.
	TimeSpent() float64
	// IsActiveAtStart reports whether the function was already running when
	// the snapshot interval started. First snapshots never have such calls.
	IsActiveAtStart() bool

	// Children reads the child table. It fails with ErrUseAfterDispose once
	// the dataset is disposed.
	Children() ([]CallTreeNode, error)
}

type nodeBase struct {
	ds     *Dataset
	info   FunctionInfo
	parent CallTreeNode
	depth  int
}

func (n *nodeBase) FunctionInfo() FunctionInfo { return n.info }
func (n *nodeBase) Parent() CallTreeNode       { return n.parent }
func (n *nodeBase) Depth() int                 { return n.depth }
func (n *nodeBase) Dataset() *Dataset          { return n.ds }
func (n *nodeBase) CallCount() int             { return int(n.info.CallCount) }
func (n *nodeBase) CPUCyclesSpent() int64      { return n.info.CPUCycles() }
func (n *nodeBase) ActiveCallCount() int       { return n.info.ActiveCalls() }

func (n *nodeBase) NameMapping() NameMapping {
	return n.ds.GetMapping(n.info.ID)
}

func (n *nodeBase) TimeSpent() float64 {
	freq := n.ds.ProcessorFrequency()
	if freq <= 0 {
		return 0
	}
	return float64(n.info.CPUCycles()) / (1000.0 * float64(freq))
}

func (n *nodeBase) IsActiveAtStart() bool {
	return !n.ds.IsFirst() && n.info.ActiveCalls() > 0
}

// node32 is a node of a snapshot taken from a process with 4-byte pointers.
type node32 struct {
	nodeBase
}

func (n *node32) PointerSize() int { return 4 }

func (n *node32) Children() ([]CallTreeNode, error) {
	infos, err := n.ds.childInfos(n.info)
	if err != nil {
		return nil, err
	}
	children := make([]CallTreeNode, 0, len(infos))
	for _, info := range infos {
		children = append(children, &node32{nodeBase{
			ds: n.ds, info: info, parent: n, depth: n.depth + 1,
		}})
	}
	return children, nil
}

// node64 is a node of a snapshot taken from a process with 8-byte pointers.
type node64 struct {
	nodeBase
}

func (n *node64) PointerSize() int { return 8 }

func (n *node64) Children() ([]CallTreeNode, error) {
	infos, err := n.ds.childInfos(n.info)
	if err != nil {
		return nil, err
	}
	children := make([]CallTreeNode, 0, len(infos))
	for _, info := range infos {
		children = append(children, &node64{nodeBase{
			ds: n.ds, info: info, parent: n, depth: n.depth + 1,
		}})
	}
	return children, nil
}
