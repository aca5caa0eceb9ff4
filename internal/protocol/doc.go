// Package protocol owns the command-channel wire contract.
//
// Ownership boundary:
// - request/response headers
// - type tags and argument encoding
// - typed reply decoding
//
// Request:  header(name[32], body_size i32, send_response u16, arg_count u16)
//           + arg size table (arg_count x u32) + args.
// Response: header(name[32], body_size i32, error_code u32) + body.
//
// All integers are big-endian. A non-zero error code means the body carries an
// error description and no return values.
package protocol
