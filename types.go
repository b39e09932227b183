package pack

import "fmt"

// ObjectType identifies the kind of a pack entry, both the four
// canonical Git object types and the two delta encodings used only
// on the wire.
type ObjectType uint8

// Wire type codes, per gitformat-pack. 0 and 5 are reserved and never
// appear in a valid pack.
const (
	InvalidObject ObjectType = 0
	CommitObject  ObjectType = 1
	TreeObject    ObjectType = 2
	BlobObject    ObjectType = 3
	TagObject     ObjectType = 4
	OffsetDelta   ObjectType = 6
	HashDelta     ObjectType = 7
)

// IsDelta reports whether t is one of the two delta encodings.
func (t ObjectType) IsDelta() bool {
	return t == OffsetDelta || t == HashDelta
}

// IsBase reports whether t is one of the four canonical object types.
func (t ObjectType) IsBase() bool {
	switch t {
	case CommitObject, TreeObject, BlobObject, TagObject:
		return true
	default:
		return false
	}
}

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	case OffsetDelta:
		return "ofs-delta"
	case HashDelta:
		return "ref-delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Hash is a 20-byte SHA-1 object id.
type Hash [20]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", [20]byte(h))
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Entry is the canonical (type, content, hash) triple delivered to the
// caller for every object resolved out of a pack, base or delta alike.
type Entry struct {
	Type    ObjectType
	Content []byte
	Hash    Hash
}

// Result describes a completed decode: the declared object count and
// the verified trailer checksum.
type Result struct {
	ObjectCount uint32
	Checksum    Hash
}
