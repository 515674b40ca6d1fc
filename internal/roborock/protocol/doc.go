// Package protocol implements the Roborock device wire protocol.
//
// Every frame, on both the local socket and the cloud broker, has the
// same layout (integers big-endian):
//
//	version[3] | seq[4] | nonce[4] | timestamp[4] | protocol[2] | len[2] | payload[len] | crc32[4]
//
// The CRC32 (IEEE) covers every byte before it. Payloads are JSON encrypted
// with a version-specific scheme:
//
//   - "1.0": AES-128-ECB, key derived from the frame timestamp and device key
//   - "A01": AES-128-CBC, IV derived from the frame nonce
//   - "B01": AES-128-CBC, IV derived from the frame nonce with a different magic
//
// "L01" frames are recognised but cannot be encrypted or decrypted.
//
// # Usage
//
//	ctx, err := protocol.NewMessageContext(rriotK)
//	if err != nil {
//	    return err
//	}
//	if err := ctx.RegisterDevice(duid, localKey, protocol.Version10, 0); err != nil {
//	    return err
//	}
//
//	ser := protocol.NewSerializer(ctx)
//	msg, err := ser.Serialize(duid, protocol.NewRequest("get_status", nil))
//
//	de := protocol.NewDeserializer(ctx, logger)
//	resp, err := de.Deserialize(duid, frame)
//
// # Thread Safety
//
// MessageContext and Serializer are safe for concurrent use. Deserializer
// holds no mutable state of its own.
package protocol
