package repository

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// Durable records are CBOR with core deterministic encoding, so the same
// record always produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() { //nolint:gochecknoinits // codec modes are built once
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("repository: CBOR encoder initialization failed: " + err.Error())
	}
	// Extra values decode as map[string]any, matching what JSON intake yields.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("repository: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRecord(rec *model.Record) ([]byte, error) {
	return encMode.Marshal(rec)
}

func decodeRecord(data []byte) (*model.Record, error) {
	var rec model.Record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
