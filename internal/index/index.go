// Package index builds the in-memory multi-index over a directory of issue files.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/calvinalkan/kanbus/internal/issue"
)

// Index errors.
var (
	ErrDuplicateID = errors.New("duplicate issue id")
	ErrWorkerPanic = errors.New("index worker panicked")
)

// Index groups issues by id, status, type, parent, label and reverse
// blocked-by dependency. Every bucket holds the same *issue.Issue pointers as
// ByID; an Index is replaced wholesale on rebuild and never patched in place.
type Index struct {
	ByID                map[string]*issue.Issue
	ByStatus            map[string][]*issue.Issue
	ByType              map[string][]*issue.Issue
	ByParent            map[string][]*issue.Issue
	ByLabel             map[string][]*issue.Issue
	ReverseDependencies map[string][]*issue.Issue
}

func empty() *Index {
	return &Index{
		ByID:                make(map[string]*issue.Issue),
		ByStatus:            make(map[string][]*issue.Issue),
		ByType:              make(map[string][]*issue.Issue),
		ByParent:            make(map[string][]*issue.Issue),
		ByLabel:             make(map[string][]*issue.Issue),
		ReverseDependencies: make(map[string][]*issue.Issue),
	}
}

// New folds issues into a fresh index, in the order given.
func New(issues []*issue.Issue) (*Index, error) {
	idx := empty()

	for _, iss := range issues {
		err := idx.add(iss)
		if err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func (idx *Index) add(iss *issue.Issue) error {
	if _, exists := idx.ByID[iss.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, iss.ID)
	}

	idx.ByID[iss.ID] = iss
	idx.ByStatus[iss.Status] = append(idx.ByStatus[iss.Status], iss)
	idx.ByType[iss.Type] = append(idx.ByType[iss.Type], iss)

	if parent := iss.ParentID(); parent != "" {
		idx.ByParent[parent] = append(idx.ByParent[parent], iss)
	}

	for _, label := range iss.Labels {
		idx.ByLabel[label] = append(idx.ByLabel[label], iss)
	}

	for _, target := range iss.BlockedBy() {
		idx.ReverseDependencies[target] = append(idx.ReverseDependencies[target], iss)
	}

	return nil
}

// Len returns the number of indexed issues.
func (idx *Index) Len() int {
	return len(idx.ByID)
}

// Get returns the issue with the given id.
func (idx *Index) Get(id string) (*issue.Issue, bool) {
	iss, ok := idx.ByID[id]

	return iss, ok
}

// Issues returns all issues sorted by id.
func (idx *Index) Issues() []*issue.Issue {
	out := make([]*issue.Issue, 0, len(idx.ByID))
	for _, iss := range idx.ByID {
		out = append(out, iss)
	}

	sortByID(out)

	return out
}

// Ready returns open work: issues that are not closed and declare no
// blocked-by dependency, sorted by id.
func (idx *Index) Ready() []*issue.Issue {
	var out []*issue.Issue

	for _, iss := range idx.ByID {
		if iss.Status == issue.StatusClosed || len(iss.BlockedBy()) > 0 {
			continue
		}

		out = append(out, iss)
	}

	sortByID(out)

	return out
}

func sortByID(issues []*issue.Issue) {
	slices.SortFunc(issues, func(a, b *issue.Issue) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// snapshot is the JSON form of an Index. Buckets are stored as id lists and
// re-linked to the shared records on decode.
type snapshot struct {
	Issues              []*issue.Issue      `json:"issues"`
	ByStatus            map[string][]string `json:"by_status"`
	ByType              map[string][]string `json:"by_type"`
	ByParent            map[string][]string `json:"by_parent"`
	ByLabel             map[string][]string `json:"by_label"`
	ReverseDependencies map[string][]string `json:"reverse_dependencies"`
}

// MarshalJSON encodes the index snapshot.
func (idx *Index) MarshalJSON() ([]byte, error) {
	snap := snapshot{
		Issues:              idx.Issues(),
		ByStatus:            bucketIDs(idx.ByStatus),
		ByType:              bucketIDs(idx.ByType),
		ByParent:            bucketIDs(idx.ByParent),
		ByLabel:             bucketIDs(idx.ByLabel),
		ReverseDependencies: bucketIDs(idx.ReverseDependencies),
	}

	return json.Marshal(snap)
}

// UnmarshalJSON decodes an index snapshot. Bucket ids that do not resolve to
// an issue in the snapshot are dropped.
func (idx *Index) UnmarshalJSON(data []byte) error {
	var snap snapshot

	err := json.Unmarshal(data, &snap)
	if err != nil {
		return err
	}

	decoded := empty()

	for _, iss := range snap.Issues {
		if iss == nil {
			continue
		}

		if _, exists := decoded.ByID[iss.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, iss.ID)
		}

		decoded.ByID[iss.ID] = iss
	}

	decoded.ByStatus = linkBuckets(decoded.ByID, snap.ByStatus)
	decoded.ByType = linkBuckets(decoded.ByID, snap.ByType)
	decoded.ByParent = linkBuckets(decoded.ByID, snap.ByParent)
	decoded.ByLabel = linkBuckets(decoded.ByID, snap.ByLabel)
	decoded.ReverseDependencies = linkBuckets(decoded.ByID, snap.ReverseDependencies)

	*idx = *decoded

	return nil
}

func bucketIDs(buckets map[string][]*issue.Issue) map[string][]string {
	out := make(map[string][]string, len(buckets))

	for key, issues := range buckets {
		ids := make([]string, len(issues))
		for n, iss := range issues {
			ids[n] = iss.ID
		}

		out[key] = ids
	}

	return out
}

func linkBuckets(byID map[string]*issue.Issue, buckets map[string][]string) map[string][]*issue.Issue {
	out := make(map[string][]*issue.Issue, len(buckets))

	for key, ids := range buckets {
		linked := make([]*issue.Issue, 0, len(ids))

		for _, id := range ids {
			if iss, ok := byID[id]; ok {
				linked = append(linked, iss)
			}
		}

		out[key] = linked
	}

	return out
}
