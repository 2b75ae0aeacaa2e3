package zookeeper

type CreateResult struct {
	// Name is the path of the new node, including any sequential suffix.
	Name string
}

type GetResult struct {
	Data []byte
	Stat Stat
}

type ExistsResult struct {
	// Stat is nil when the node does not exist.
	Stat *Stat
}

func (r ExistsResult) Exists() bool {
	return r.Stat != nil
}

type GetChildrenResult struct {
	Children   []string
	ParentStat Stat
}

type SetResult struct {
	Stat Stat
}

type GetACLResult struct {
	ACL  ACL
	Stat Stat
}

type SetACLResult struct {
	Stat Stat
}
