package orders

// ItemSpec is one wanted line in an edit. ID ties it to an existing item;
// without it the line is matched to the current item for the same product.
type ItemSpec struct {
	ID        string `json:"id,omitempty"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeQuantity ChangeKind = "quantity_changed"
	ChangeProduct  ChangeKind = "product_changed"
	ChangeNone     ChangeKind = "unchanged"
)

// Change is the per-item view of an edit.
type Change struct {
	Kind   ChangeKind
	Old    *OrderItem // nil for added
	Target *ItemSpec  // nil for removed
}

// Diff is the result of comparing an order's items with a target set.
type Diff struct {
	Changes []Change
	// Deltas nets every change per product; positive means reserve. Zero entries are dropped.
	Deltas map[string]int
}

// Empty reports whether the edit moves no stock.
func (d Diff) Empty() bool { return len(d.Deltas) == 0 }

// DiffItems matches target against current and computes the stock movement
// needed to go from one to the other. Targets must already be validated
// (positive quantities, one line per product, known item IDs).
func DiffItems(current []OrderItem, target []ItemSpec) Diff {
	byID := make(map[string]int, len(current))
	byProduct := make(map[string]int, len(current))
	for i, it := range current {
		byID[it.ID] = i
		byProduct[it.ProductID] = i
	}

	matched := make([]bool, len(current))
	d := Diff{Deltas: map[string]int{}}

	// id matches first, so a line whose product changed cannot be claimed by a product match
	match := make([]int, len(target))
	for i, t := range target {
		match[i] = -1
		if t.ID == "" {
			continue
		}
		if j, ok := byID[t.ID]; ok && !matched[j] {
			match[i] = j
			matched[j] = true
		}
	}
	for i, t := range target {
		if match[i] >= 0 || t.ID != "" {
			continue
		}
		if j, ok := byProduct[t.ProductID]; ok && !matched[j] {
			match[i] = j
			matched[j] = true
		}
	}

	for i := range target {
		t := &target[i]
		if match[i] < 0 {
			d.Deltas[t.ProductID] += t.Quantity
			d.Changes = append(d.Changes, Change{Kind: ChangeAdded, Target: t})
			continue
		}
		old := &current[match[i]]
		switch {
		case old.ProductID != t.ProductID:
			d.Deltas[old.ProductID] -= old.Quantity
			d.Deltas[t.ProductID] += t.Quantity
			d.Changes = append(d.Changes, Change{Kind: ChangeProduct, Old: old, Target: t})
		case old.Quantity != t.Quantity:
			d.Deltas[t.ProductID] += t.Quantity - old.Quantity
			d.Changes = append(d.Changes, Change{Kind: ChangeQuantity, Old: old, Target: t})
		default:
			d.Changes = append(d.Changes, Change{Kind: ChangeNone, Old: old, Target: t})
		}
	}
	for j := range current {
		if !matched[j] {
			d.Deltas[current[j].ProductID] -= current[j].Quantity
			d.Changes = append(d.Changes, Change{Kind: ChangeRemoved, Old: &current[j]})
		}
	}

	for id, n := range d.Deltas {
		if n == 0 {
			delete(d.Deltas, id)
		}
	}
	return d
}
