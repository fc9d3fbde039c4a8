package confirmation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordVersionV1 = 1

// record layout (v1, big-endian):
//
//	version(1) purpose(1) used(1) createdAt ms(8) expiresAt ms(8)
//	subjectLen(2) subject payloadCount(2) {keyLen(2) key valLen(2) val}*
//
// The Lua scripts in redis.go read used, expiresAt and subject at fixed
// offsets; keep them in sync with this layout.
type record struct {
	Purpose   Purpose
	Used      bool
	CreatedAt int64
	ExpiresAt int64
	SubjectID string
	Payload   map[string]string
}

func encodeRecord(r *record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	buf.WriteByte(byte(r.Purpose))
	if r.Used {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, r.SubjectID); err != nil {
		return nil, err
	}
	if len(r.Payload) > 65535 {
		return nil, errors.New("confirmation payload too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.Payload))); err != nil {
		return nil, err
	}
	for k, v := range r.Payload {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid confirmation record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	used, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	r := &record{Purpose: Purpose(purpose), Used: used != 0}
	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if r.SubjectID, err = readString(reader); err != nil {
		return nil, err
	}

	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	r.Payload = make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := readString(reader)
		if err != nil {
			return nil, err
		}
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		r.Payload[k] = v
	}

	return r, nil
}

func (r *record) result(status Status) Result {
	return Result{
		Status:    status,
		SubjectID: r.SubjectID,
		Payload:   copyPayload(r.Payload),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("confirmation record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
