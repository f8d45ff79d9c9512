package archive

import (
	"bufio"
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// cidTag is the DAG-CBOR tag for a content link.
const cidTag = 42

var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var dagCBOR cbor.DecMode

func init() {
	var err error
	dagCBOR, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Block is one decoded block of a repository snapshot
type Block struct {
	CID   string `json:"cid"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"record"`
}

// Snapshot is a decoded CAR v1 repository export
type Snapshot struct {
	Roots  []string `json:"roots"`
	Blocks []Block  `json:"blocks"`
}

// ReadCAR decodes a CAR v1 stream. Blocks that are not valid DAG-CBOR are kept
// with their raw bytes so nothing from the export is dropped.
func ReadCAR(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)

	header, err := readSection(br)
	if err != nil {
		return nil, fmt.Errorf("read car header: %w", err)
	}
	var h struct {
		Version int        `cbor:"version"`
		Roots   []cbor.Tag `cbor:"roots"`
	}
	if err := dagCBOR.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("decode car header: %w", err)
	}
	if h.Version != 1 {
		return nil, fmt.Errorf("unsupported car version %d", h.Version)
	}

	snap := &Snapshot{}
	for _, root := range h.Roots {
		snap.Roots = append(snap.Roots, linkString(root))
	}

	for {
		section, err := readSection(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read car block %d: %w", len(snap.Blocks), err)
		}
		cid, data, err := splitCID(section)
		if err != nil {
			return nil, fmt.Errorf("car block %d: %w", len(snap.Blocks), err)
		}

		block := Block{CID: cid}
		var v any
		if err := dagCBOR.Unmarshal(data, &v); err != nil {
			block.Value = map[string]any{"$bytes": base64.StdEncoding.EncodeToString(data)}
		} else {
			block.Value = normalize(v)
			if m, ok := block.Value.(map[string]any); ok {
				block.Type, _ = m["$type"].(string)
			}
		}
		snap.Blocks = append(snap.Blocks, block)
	}
	return snap, nil
}

// readSection reads one varint length-prefixed section. A clean end of input
// before the prefix is io.EOF.
func readSection(br *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	if n == 0 || n > 8<<20 {
		return nil, fmt.Errorf("bad section length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// splitCID parses the CIDv1 at the start of a block section.
func splitCID(section []byte) (string, []byte, error) {
	if len(section) >= 2 && section[0] == 0x12 && section[1] == 0x20 {
		return "", nil, errors.New("cidv0 blocks are not supported")
	}
	rd := bytes.NewReader(section)
	for i, field := range []string{"version", "codec", "hash code"} {
		v, err := binary.ReadUvarint(rd)
		if err != nil {
			return "", nil, fmt.Errorf("cid %s: %w", field, err)
		}
		if i == 0 && v != 1 {
			return "", nil, fmt.Errorf("unsupported cid version %d", v)
		}
	}
	digestLen, err := binary.ReadUvarint(rd)
	if err != nil {
		return "", nil, fmt.Errorf("cid digest length: %w", err)
	}
	if uint64(rd.Len()) < digestLen {
		return "", nil, errors.New("cid digest truncated")
	}
	cidLen := len(section) - rd.Len() + int(digestLen)
	return encodeCID(section[:cidLen]), section[cidLen:], nil
}

func encodeCID(raw []byte) string {
	return "b" + strings.ToLower(cidEncoding.EncodeToString(raw))
}

// linkString renders a tag-42 link; the payload carries a leading 0x00 multibase byte.
func linkString(tag cbor.Tag) string {
	raw, ok := tag.Content.([]byte)
	if !ok || len(raw) < 2 {
		return ""
	}
	return encodeCID(raw[1:])
}

// normalize turns decoded DAG-CBOR into values encoding/json can render:
// links become {"$link": cid} and byte strings {"$bytes": base64}.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case cbor.Tag:
		if t.Number == cidTag {
			return map[string]any{"$link": linkString(t)}
		}
		return map[string]any{"$tag": t.Number, "value": normalize(t.Content)}
	case []byte:
		return map[string]any{"$bytes": base64.StdEncoding.EncodeToString(t)}
	default:
		return v
	}
}
