package chunk

type ItemStack struct {
	ItemID uint16 `json:"item_id"`
	Count  int    `json:"count"`
}

func (s ItemStack) Empty() bool { return s.Count <= 0 }

// Tile is one cell of a layer. BitMap is derived and recomputed on change;
// Solid is copied from the catalog at placement.
type Tile struct {
	ID        uint16
	MetaData  uint8
	BitMap    uint8
	Solid     bool
	Inventory []ItemStack
}

// Clone returns a copy that shares no inventory storage with t.
func (t Tile) Clone() Tile {
	if t.Inventory != nil {
		inv := make([]ItemStack, len(t.Inventory))
		copy(inv, t.Inventory)
		t.Inventory = inv
	}
	return t
}

// Equal compares the persisted fields of two tiles.
func (t Tile) Equal(o Tile) bool {
	if t.ID != o.ID || t.MetaData != o.MetaData || t.BitMap != o.BitMap || t.Solid != o.Solid {
		return false
	}
	if len(t.Inventory) != len(o.Inventory) {
		return false
	}
	for i := range t.Inventory {
		if t.Inventory[i] != o.Inventory[i] {
			return false
		}
	}
	return true
}

// Pos is a chunk-local coordinate.
type Pos struct {
	X int
	Y int
}

type Biome struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
