package scope

import (
	"errors"
	"fmt"

	"github.com/marksync/marksync/internal/remote"
)

// ErrUnknownTarget means the target's root page or space does not exist.
var ErrUnknownTarget = errors.New("unknown sync target")

// TargetKind selects how a Target expands into pages.
type TargetKind int

const (
	KindSinglePage TargetKind = iota
	KindSubtree
	KindSpace
)

func (k TargetKind) String() string {
	switch k {
	case KindSinglePage:
		return "page"
	case KindSubtree:
		return "subtree"
	default:
		return "space"
	}
}

// Target names what to sync: one page, a subtree, or a whole space.
type Target struct {
	Kind TargetKind

	// ID is the page id for SinglePage and Subtree targets.
	ID string

	// SpaceKey is set for Space targets.
	SpaceKey string
}

func SinglePage(id string) Target {
	return Target{Kind: KindSinglePage, ID: id}
}

func Subtree(rootID string) Target {
	return Target{Kind: KindSubtree, ID: rootID}
}

func Space(key string) Target {
	return Target{Kind: KindSpace, SpaceKey: key}
}

func (t Target) String() string {
	if t.Kind == KindSpace {
		return fmt.Sprintf("space:%s", t.SpaceKey)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// Entry is one resolved page with the local path it maps to, relative to
// the sync root. Entries are ordered parent before child.
type Entry struct {
	Page      *remote.Page
	LocalPath string
}
