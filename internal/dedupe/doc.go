// Package dedupe provides the at-most-once claim used by the event bridge.
//
// A Claimer atomically claims a key for a TTL; only the first caller within
// the window sees true. Event nonces map to keys with Key("abc") ==
// "dedup:abc".
//
// RedisClaimer shares claims across every switchboard instance and is used
// whenever Redis is configured. Cache is the in-process fallback for a
// single instance.
package dedupe
