package staging

import (
	"encoding/json"
	"fmt"

	"bt/internal/bt"
)

// recordVersion is the current on-disk format of queue records. Every record
// file is this single byte followed by JSON. A record with an unknown version
// byte aborts processing; the format is never guessed at.
const recordVersion byte = 1

// record is the serialized form of a queued operation. The sequence number
// lives in the file name, not the record.
type record struct {
	OpID        string       `json:"op_uuid"`
	FileID      string       `json:"file_id"`
	DirectoryID string       `json:"directory_id"`
	Name        string       `json:"name"`
	Digest      string       `json:"digest"`
	Stats       bt.FileStats `json:"stats"`
	SourcePath  string       `json:"source_path"`
}

func encodeRecord(op *bt.StagedOperation) ([]byte, error) {
	body, err := json.Marshal(record{
		OpID:        op.OpID,
		FileID:      op.FileID,
		DirectoryID: op.DirectoryID,
		Name:        op.Name,
		Digest:      op.Digest,
		Stats:       op.Stats,
		SourcePath:  op.SourcePath,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding operation record: %w", err)
	}
	return append([]byte{recordVersion}, body...), nil
}

func decodeRecord(data []byte) (*record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty operation record: %w", bt.ErrCorrupt)
	}
	if data[0] != recordVersion {
		return nil, fmt.Errorf("unknown operation record version %d: %w", data[0], bt.ErrCorrupt)
	}
	var r record
	if err := json.Unmarshal(data[1:], &r); err != nil {
		return nil, fmt.Errorf("decoding operation record: %w: %w", err, bt.ErrCorrupt)
	}
	return &r, nil
}
