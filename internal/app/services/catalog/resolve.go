package catalog

import (
	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
)

// ResolveApp picks the record a caller should see when several rows share a
// name: the caller's own row, else the platform fallback owner's row, else
// the first candidate under the store's stable order. It is a pure function
// over the candidate list so the tie-break is deterministically testable.
func ResolveApp(candidates []app.App, callerKeyID, platformKeyID *uuid.UUID) *app.App {
	idx := resolveIndex(len(candidates), func(i int) *uuid.UUID {
		return candidates[i].OwnerKeyID
	}, callerKeyID, platformKeyID)
	if idx < 0 {
		return nil
	}
	return &candidates[idx]
}

// ResolveFunction applies the same three-tier fallback to functions.
func ResolveFunction(candidates []function.Function, callerKeyID, platformKeyID *uuid.UUID) *function.Function {
	idx := resolveIndex(len(candidates), func(i int) *uuid.UUID {
		return candidates[i].OwnerKeyID
	}, callerKeyID, platformKeyID)
	if idx < 0 {
		return nil
	}
	return &candidates[idx]
}

func resolveIndex(n int, ownerAt func(int) *uuid.UUID, caller, platform *uuid.UUID) int {
	if n == 0 {
		return -1
	}
	if caller != nil {
		for i := 0; i < n; i++ {
			if owner := ownerAt(i); owner != nil && *owner == *caller {
				return i
			}
		}
	}
	for i := 0; i < n; i++ {
		if sameOwner(ownerAt(i), platform) {
			return i
		}
	}
	return 0
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
