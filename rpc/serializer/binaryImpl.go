package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dEdit/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte) | flags (2 bytes) | present fields in flag order.
// Strings and the snapshot are length prefixed (4 bytes), Seq is 8 bytes,
// Position and CountdownSeconds are 4 bytes each.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSeq uint16 = 1 << iota
	hasDocumentID
	hasMembershipID
	hasSessionID
	hasRequestID
	hasReason
	hasMode
	hasRole
	hasHolder
	hasRequester
	hasPosition
	hasCountdown
	hasCode
	hasErr
	hasSnapshot
)

const headerSize = 3

// stringFields lists the string fields in wire order together with their flag
func stringFields(msg *common.Message) []struct {
	flag uint16
	ptr  *string
} {
	return []struct {
		flag uint16
		ptr  *string
	}{
		{hasDocumentID, &msg.DocumentID},
		{hasMembershipID, &msg.MembershipID},
		{hasSessionID, &msg.SessionID},
		{hasRequestID, &msg.RequestID},
		{hasReason, &msg.Reason},
		{hasMode, &msg.Mode},
		{hasRole, &msg.Role},
		{hasHolder, &msg.HolderMembershipID},
		{hasRequester, &msg.RequesterMembershipID},
		{hasCode, &msg.Code},
		{hasErr, &msg.Err},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if msg.Position < 0 || msg.CountdownSeconds < 0 {
		return nil, fmt.Errorf("negative position or countdown cannot be encoded")
	}

	// Calculate total size needed
	result := make([]byte, b.sizeBytes(&msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	// Handle Seq
	if msg.Seq != 0 {
		flags |= hasSeq
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Seq)
		pos += 8
	}

	// Handle strings
	for _, f := range stringFields(&msg) {
		if *f.ptr == "" {
			continue
		}
		flags |= f.flag
		pos = putBytes(result, pos, []byte(*f.ptr))
	}

	// Handle Position
	if msg.Position != 0 {
		flags |= hasPosition
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(msg.Position))
		pos += 4
	}

	// Handle CountdownSeconds
	if msg.CountdownSeconds != 0 {
		flags |= hasCountdown
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(msg.CountdownSeconds))
		pos += 4
	}

	// Handle Snapshot
	if msg.Snapshot != nil {
		flags |= hasSnapshot
		putBytes(result, pos, msg.Snapshot)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	// Read Seq if present
	if flags&hasSeq != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for seq")
		}
		msg.Seq = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	// Read strings
	for _, f := range stringFields(msg) {
		if flags&f.flag == 0 {
			continue
		}
		raw, next, err := readBytes(data, pos)
		if err != nil {
			return err
		}
		*f.ptr = string(raw)
		pos = next
	}

	// Read Position if present
	if flags&hasPosition != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for position")
		}
		msg.Position = int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
	}

	// Read CountdownSeconds if present
	if flags&hasCountdown != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for countdown")
		}
		msg.CountdownSeconds = int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
	}

	// Read Snapshot if present, an empty snapshot stays a non nil slice
	if flags&hasSnapshot != 0 {
		raw, _, err := readBytes(data, pos)
		if err != nil {
			return err
		}
		msg.Snapshot = make([]byte, len(raw))
		copy(msg.Snapshot, raw)
	}

	return nil
}

func (b binarySerializerImpl) Text() bool {
	return false
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// putBytes writes a length prefixed byte slice at pos and returns the next position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// readBytes reads a length prefixed byte slice at pos. The result aliases data.
func readBytes(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for field length")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for field data")
	}
	return data[pos : pos+n], pos + n, nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg *common.Message) int {
	size := headerSize

	if msg.Seq != 0 {
		size += 8
	}
	for _, f := range stringFields(msg) {
		if *f.ptr != "" {
			size += 4 + len(*f.ptr)
		}
	}
	if msg.Position != 0 {
		size += 4
	}
	if msg.CountdownSeconds != 0 {
		size += 4
	}
	if msg.Snapshot != nil {
		size += 4 + len(msg.Snapshot)
	}

	return size
}
