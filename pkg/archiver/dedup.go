// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"slices"
	"strings"
)

// Dedupe sorts a reference list by target URL and collapses the duplicates.
//
// Unresolved references are dropped. In every group of references sharing
// a target, the first one is the canonical reference and is the only one
// fetched. The following references that exactly match an earlier member
// of the group are removed, the others are kept and flagged as duplicates
// so they still get rewritten.
//
// Running Dedupe on its own output returns the same list.
func Dedupe(refs []*Reference) []*Reference {
	sorted := slices.Clone(refs)
	slices.SortStableFunc(sorted, func(a, b *Reference) int {
		return strings.Compare(a.Key(), b.Key())
	})

	res := make([]*Reference, 0, len(sorted))
	var group []*Reference

	for _, ref := range sorted {
		if ref == nil || ref.Key() == "" {
			continue
		}

		if len(group) == 0 || !group[0].IsDupe(ref) {
			group = append(group[:0], ref)
			res = append(res, ref)
			continue
		}

		if slices.ContainsFunc(group, ref.IsExactDupe) {
			continue
		}

		ref.Duplicate = true
		group = append(group, ref)
		res = append(res, ref)
	}

	return res
}
