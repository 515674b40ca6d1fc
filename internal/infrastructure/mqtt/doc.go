// Package mqtt wraps paho for the single broker session a Roborock account
// uses to reach its devices through the cloud.
//
// A Client reconnects on its own and re-subscribes every tracked topic once
// the broker accepts it again. Subscriptions the broker refuses after a
// reconnect are reported through SetOnSubscribeError so the owner can mark
// the transport down. ssl:// and mqtts:// URLs are dialled with TLS 1.2 or
// newer. Passwords are derived per account and are never logged.
//
// Topic helpers in Topics build the request and response topics:
//
//	rr/m/i/{user}/{username}/{duid}   requests, published by the bridge
//	rr/m/o/{user}/{username}/{duid}   replies, received via rr/m/o/{user}/{username}/#
package mqtt
