/*
Package generator turns a spec document plus cached subscription and rule data
into one routing engine configuration per instance.

Generation is a pure function: no network, no disk, and map iteration never
influences output order. Two calls with the same inputs render to the same
bytes, which is what lets the reconciler compare configurations by content.

# Names

Every proxy and group name in one config comes from an Allocator seeded with
the main group name and the DIRECT and REJECT policies. Colliding names get the
smallest free numeric suffix:

	a := generator.NewAllocator("Proxy")
	a.Allocate("A") // "A"
	a.Allocate("A") // "A 1"

# Groups

For every enabled subscription and user proxy the declared select, url-test and
fallback groups are synthesized from the Options templates. The main group lists
DIRECT (unless omitted), then the sorted select, url-test and fallback group
names, then raw user proxy names when no default user group exists.

# Rules

Inline collections come first, then the collections of each rule subscription.
A collection's policy is the subscription override for its name, else its
recommended policy. The select policy gets a per-collection group, allocated
only when the collection contributes at least one rule. The selectProxy and
selectIpRegion policies fail the instance with a *PolicyError. A catch-all
MATCH rule is always last.
*/
package generator
