package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Contract signatures read by the client. Selectors and topics are derived
// from these at package init.
const (
	sigOwnerOf        = "ownerOf(uint256)"
	sigTokenURI       = "tokenURI(uint256)"
	sigGetAgentWallet = "getAgentWallet(uint256)"
	sigGetSummary     = "getSummary(uint256,address[],string,string)"
	sigRegistered     = "Registered(uint256,string,address)"
)

var (
	selOwnerOf        = selector(sigOwnerOf)
	selTokenURI       = selector(sigTokenURI)
	selGetAgentWallet = selector(sigGetAgentWallet)
	selGetSummary     = selector(sigGetSummary)
	topicRegistered   = "0x" + hex.EncodeToString(keccak256([]byte(sigRegistered)))
)

var errShortData = errors.New("abi: return data too short")

var (
	twoTo256  = new(big.Int).Lsh(big.NewInt(1), 256)
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func selector(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

// abiValue is one encoded argument. Static values go in the head; dynamic
// values are referenced from the head by offset and appended to the tail.
type abiValue struct {
	data    []byte
	dynamic bool
}

func word(v uint64) []byte {
	w := make([]byte, 32)
	new(big.Int).SetUint64(v).FillBytes(w)
	return w
}

func uint256Value(v uint64) abiValue {
	return abiValue{data: word(v)}
}

func stringValue(s string) abiValue {
	b := []byte(s)
	out := word(uint64(len(b)))
	out = append(out, padRight(b)...)
	return abiValue{data: out, dynamic: true}
}

func addressArrayValue(addrs []string) (abiValue, error) {
	out := word(uint64(len(addrs)))
	for _, a := range addrs {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(a), "0x"))
		if err != nil || len(raw) != 20 {
			return abiValue{}, fmt.Errorf("abi: invalid address %q", a)
		}
		w := make([]byte, 32)
		copy(w[12:], raw)
		out = append(out, w...)
	}
	return abiValue{data: out, dynamic: true}, nil
}

func padRight(b []byte) []byte {
	if rem := len(b) % 32; rem != 0 {
		return append(append([]byte{}, b...), make([]byte, 32-rem)...)
	}
	return b
}

// packCall encodes a function call: selector followed by head and tail sections.
func packCall(sel []byte, vals ...abiValue) []byte {
	headLen := 32 * len(vals)
	var head, tail []byte
	for _, v := range vals {
		if v.dynamic {
			head = append(head, word(uint64(headLen+len(tail)))...)
			tail = append(tail, v.data...)
			continue
		}
		head = append(head, v.data...)
	}
	out := make([]byte, 0, len(sel)+len(head)+len(tail))
	out = append(out, sel...)
	out = append(out, head...)
	return append(out, tail...)
}

func wordAt(data []byte, i int) ([]byte, error) {
	start := i * 32
	if len(data) < start+32 {
		return nil, errShortData
	}
	return data[start : start+32], nil
}

func uintAt(data []byte, i int) (uint64, error) {
	w, err := wordAt(data, i)
	if err != nil {
		return 0, err
	}
	v := new(big.Int).SetBytes(w)
	if !v.IsUint64() {
		return 0, fmt.Errorf("abi: value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// intAt decodes a two's complement signed integer word.
func intAt(data []byte, i int) (*big.Int, error) {
	w, err := wordAt(data, i)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(w)
	if w[0]&0x80 != 0 {
		v.Sub(v, twoTo256)
	}
	return v, nil
}

// int128At decodes a signed word and rejects values outside int128.
func int128At(data []byte, i int) (*big.Int, error) {
	v, err := intAt(data, i)
	if err != nil {
		return nil, err
	}
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return nil, fmt.Errorf("abi: value %s overflows int128", v)
	}
	return v, nil
}

func decodeAddress(data []byte) (string, error) {
	w, err := wordAt(data, 0)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(w[12:]), nil
}

// decodeString decodes a dynamic string whose offset sits in head word i.
func decodeString(data []byte, i int) (string, error) {
	off, err := uintAt(data, i)
	if err != nil {
		return "", err
	}
	// Offsets and lengths come from the node, so compare by subtraction to
	// stay clear of uint64 wraparound.
	size := uint64(len(data))
	if off%32 != 0 || size < 32 || off > size-32 {
		return "", errShortData
	}
	length, err := uintAt(data[off:], 0)
	if err != nil {
		return "", err
	}
	start := off + 32
	if length > size-start {
		return "", errShortData
	}
	return string(data[start : start+length]), nil
}

func isZeroAddress(addr string) bool {
	return strings.TrimLeft(strings.TrimPrefix(addr, "0x"), "0") == ""
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// parseQuantity decodes a JSON-RPC hex quantity such as "0x1a".
func parseQuantity(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return v.Uint64(), nil
}

func formatQuantity(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

// topicAddress extracts the address from an indexed address topic.
func topicAddress(topic string) (string, error) {
	raw, err := decodeHex(topic)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("invalid address topic %q", topic)
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

func topicUint(topic string) (uint64, error) {
	raw, err := decodeHex(topic)
	if err != nil || len(raw) != 32 {
		return 0, fmt.Errorf("invalid uint topic %q", topic)
	}
	return uintAt(raw, 0)
}
