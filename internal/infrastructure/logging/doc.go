// Package logging configures the bridge's structured logger on top of
// log/slog.
//
// Output is JSON unless format is "text". Levels are debug, info, notice,
// warn and error; notice is used for frames from devices the bridge does
// not manage and similar expected oddities.
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stdout"
//
// Local keys, account secrets and derived broker passwords must never be
// passed as log attributes.
package logging
