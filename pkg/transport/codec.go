package transport

import (
	stdjson "encoding/json"

	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/distribution"
)

const (
	contentType     = "application/json"
	contentEncoding = "snappy"
)

// Numbers are decoded as json.Number first so that integers keep their
// precision; see normalizeValue.
var json = jsoniter.Config{
	EscapeHTML: false,
	UseNumber:  true,
}.Froze()

// encodeRequest marshals a page and compresses it with snappy's block format.
func encodeRequest(req *distribution.Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal request")
	}
	return snappy.Encode(nil, data), nil
}

// errDecodedTooLarge is returned by decodeRequest when the uncompressed page
// would exceed the allowed size.
var errDecodedTooLarge = errors.New("decompressed request too large")

// decodeRequest is the inverse of encodeRequest. Integral numbers in rows
// decode to int64 and the others to float64. Byte slices travel as base64
// strings and are not restored. The length snappy announces in the header
// is checked against maxDecodedSize before anything is allocated.
func decodeRequest(body []byte, maxDecodedSize int) (*distribution.Request, error) {
	size, err := snappy.DecodedLen(body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decompress request")
	}
	if size > maxDecodedSize {
		return nil, errors.Wrapf(errDecodedTooLarge, "%d bytes, limit is %d", size, maxDecodedSize)
	}

	data, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decompress request")
	}

	var req distribution.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal request")
	}
	if req.Rows == nil {
		req.Rows = []distribution.Row{}
	}
	for _, row := range req.Rows {
		NormalizeRow(row)
	}
	return &req, nil
}

// NormalizeRow replaces in place the json.Number values of a row decoded with
// UseNumber: integral numbers become int64 and the others float64, so that
// they hash the same on every node.
func NormalizeRow(row distribution.Row) {
	for i, v := range row {
		row[i] = normalizeValue(v)
	}
}

func normalizeValue(v interface{}) interface{} {
	switch v := v.(type) {
	case stdjson.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []interface{}:
		for i := range v {
			v[i] = normalizeValue(v[i])
		}
		return v
	case map[string]interface{}:
		for k := range v {
			v[k] = normalizeValue(v[k])
		}
		return v
	default:
		return v
	}
}
