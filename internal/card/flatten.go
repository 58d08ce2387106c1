// Package card implements the generic walk used to extract typed nodes
// (text blocks, images, actions, inputs) from nested card documents.
package card

import "sort"

// ActionShowCard is the card-reveal action type. Its subtree is never
// recursed into by Flatten: the nested card is flattened independently when
// the adaptive mapper builds the child card, so walking it here would
// duplicate every node it contains.
const ActionShowCard = "Action.ShowCard"

// Flatten walks body depth-first in pre-order and returns every node whose
// "type" tag satisfies match, in document order. A matching node is
// collected and not recursed into. Object properties are visited in sorted
// key order to keep results deterministic; array elements are visited in
// place. A nil body yields an empty list.
func Flatten(body any, match func(typeTag string) bool) []map[string]any {
	out := []map[string]any{}
	walk(body, match, &out)
	return out
}

func walk(node any, match func(string) bool, out *[]map[string]any) {
	switch n := node.(type) {
	case map[string]any:
		tag, _ := n["type"].(string)
		if tag != "" && match(tag) {
			*out = append(*out, n)
			return
		}
		if tag == ActionShowCard {
			return
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(n[k], match, out)
		}
	case []any:
		for _, v := range n {
			walk(v, match, out)
		}
	}
}

// TypeIs returns a predicate matching exactly one type tag.
func TypeIs(tag string) func(string) bool {
	return func(t string) bool { return t == tag }
}

// TypeIn returns a predicate matching any of the given type tags.
func TypeIn(tags ...string) func(string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return func(t string) bool {
		_, ok := set[t]
		return ok
	}
}
