// Package typing tracks which participants are typing in each conversation.
//
// State lives in memory on the instance that owns the typing connection and
// is not shared between instances; the start and stop broadcasts still reach
// every instance through the room relay. Entries expire after the configured
// timeout (30s by default) and a background sweep drops them silently. A
// disconnect clears every entry of that identity and broadcasts one stop per
// conversation.
package typing
