// Package events delivers job lifecycle notifications to the host process.
//
// The bus is a bounded channel. Publishing never blocks: when the host is not
// draining fast enough the oldest event is dropped to make room, so pollers
// keep making progress even with an absent consumer.
package events
