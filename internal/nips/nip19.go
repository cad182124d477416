package nips

import (
	"encoding/hex"
	"errors"
	"strings"
)

// NIP-19 bech32 identity encodings. Only the bare npub/nsec forms are
// handled here; the wallet never deals in nevent/naddr pointers.

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func bech32Decode(bech string) (string, []byte, error) {
	if len(bech) < 8 {
		return "", nil, errors.New("too short")
	}

	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, errors.New("invalid separator position")
	}

	hrp := bech[:pos]
	data := bech[pos+1:]

	var values []byte
	for _, c := range data {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, errors.New("invalid character")
		}
		values = append(values, byte(idx))
	}

	// Strip checksum (last 6 chars)
	if len(values) < 6 {
		return "", nil, errors.New("too short for checksum")
	}
	values = values[:len(values)-6]

	return hrp, values, nil
}

func bech32ConvertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1

	for _, value := range data {
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("invalid padding")
	}

	return ret, nil
}

func bech32Encode(hrp string, data []byte) string {
	checksum := bech32CreateChecksum(hrp, data)
	combined := append(append([]byte{}, data...), checksum...)

	var result strings.Builder
	result.WriteString(hrp)
	result.WriteByte('1')
	for _, v := range combined {
		result.WriteByte(bech32Charset[v])
	}
	return result.String()
}

func bech32Polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HrpExpand(hrp string) []int {
	var ret []int
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := bech32HrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	for i := 0; i < 6; i++ {
		values = append(values, 0)
	}
	polymod := bech32Polymod(values) ^ 1
	var checksum []byte
	for i := 0; i < 6; i++ {
		checksum = append(checksum, byte((polymod>>(5*(5-i)))&31))
	}
	return checksum
}

// EncodeNpub encodes a hex pubkey as npub1...
func EncodeNpub(hexPubKey string) (string, error) {
	raw, err := hex.DecodeString(hexPubKey)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", errors.New("invalid pubkey length")
	}
	data, err := bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode("npub", data), nil
}

// DecodeNpub decodes npub1... into a hex pubkey.
func DecodeNpub(npub string) (string, error) {
	hrp, data, err := bech32Decode(strings.ToLower(npub))
	if err != nil {
		return "", err
	}
	if hrp != "npub" {
		return "", errors.New("not an npub")
	}
	raw, err := bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", errors.New("invalid pubkey length")
	}
	return hex.EncodeToString(raw), nil
}

// NormalizePubKey accepts either hex or npub form and returns lowercase hex.
func NormalizePubKey(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if strings.HasPrefix(strings.ToLower(identity), "npub1") {
		return DecodeNpub(identity)
	}
	identity = strings.ToLower(identity)
	if len(identity) != 64 {
		return "", errors.New("pubkey must be 64 hex chars or npub")
	}
	if _, err := hex.DecodeString(identity); err != nil {
		return "", errors.New("pubkey is not valid hex")
	}
	return identity, nil
}

// EncodeNsec encodes a 32-byte secret key as nsec1...
func EncodeNsec(secretKey []byte) (string, error) {
	if len(secretKey) != 32 {
		return "", errors.New("invalid secret key length")
	}
	data, err := bech32ConvertBits(secretKey, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode("nsec", data), nil
}

// DecodeNsec decodes nsec1... into raw secret key bytes.
func DecodeNsec(nsec string) ([]byte, error) {
	hrp, data, err := bech32Decode(strings.ToLower(strings.TrimSpace(nsec)))
	if err != nil {
		return nil, err
	}
	if hrp != "nsec" {
		return nil, errors.New("not an nsec")
	}
	raw, err := bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("invalid secret key length")
	}
	return raw, nil
}
