// Package zxid implements the transaction ids that order every change to the
// tree.
//
// A ZXID packs an epoch in its high 32 bits and a counter in its low 32 bits.
// A new epoch starts whenever a server takes over the tree, and the counter
// counts the changes made within it, so comparing two ZXIDs as integers
// orders the changes they name.
// See https://zookeeper.apache.org/doc/r3.4.13/zookeeperInternals.html#sc_guaranteesPropertiesDefinitions
package zxid

import "fmt"

type ZXID int64

// Zero comes before every change.
const Zero ZXID = 0

func New(epoch int32, counter int32) ZXID {
	return ZXID(int64(epoch)<<32 | int64(uint32(counter)))
}

func (z ZXID) Epoch() int32 {
	return int32(z >> 32)
}

func (z ZXID) Counter() int32 {
	return int32(z & 0xFFFFFFFF)
}

// Next is the id of the change after z within the same epoch.
func (z ZXID) Next() ZXID {
	return New(z.Epoch(), z.Counter()+1)
}

// NextEpoch is the first id of the epoch after z's.
func (z ZXID) NextEpoch() ZXID {
	return New(z.Epoch()+1, 0)
}

func (z ZXID) String() string {
	return fmt.Sprintf("0x%x(%d:%d)", int64(z), z.Epoch(), z.Counter())
}
