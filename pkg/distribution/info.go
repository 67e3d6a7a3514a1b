package distribution

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the partitioning strategy the planner picked for a phase's output.
type Kind int

const (
	// Broadcast sends every row to every downstream node.
	Broadcast Kind = iota
	// Modulo sends every row to exactly one downstream node, picked by
	// hashing the partition column.
	Modulo
)

func (k Kind) String() string {
	switch k {
	case Broadcast:
		return "BROADCAST"
	case Modulo:
		return "MODULO"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String; it ignores case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "BROADCAST":
		return Broadcast, nil
	case "MODULO":
		return Modulo, nil
	default:
		return 0, errors.Errorf("unknown distribution kind %q", s)
	}
}

// Info describes how the rows of a phase are distributed to the nodes of the
// downstream phase. PartitionColumn is only meaningful for Modulo.
type Info struct {
	Kind            Kind
	PartitionColumn int
}

var (
	DefaultBroadcast = Info{Kind: Broadcast}
	DefaultModulo    = Info{Kind: Modulo, PartitionColumn: 0}
)

// Validate checks that the descriptor is well formed. Whether the partition
// column exists is checked against each row.
func (i Info) Validate() error {
	switch i.Kind {
	case Broadcast:
		return nil
	case Modulo:
		if i.PartitionColumn < 0 {
			return errors.Errorf("invalid partition column %d", i.PartitionColumn)
		}
		return nil
	default:
		return errors.Errorf("unknown distribution kind %s", i.Kind)
	}
}

func (i Info) String() string {
	if i.Kind == Modulo {
		return fmt.Sprintf("%s(%d)", i.Kind, i.PartitionColumn)
	}
	return i.Kind.String()
}
