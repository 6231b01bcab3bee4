// Package etag implements conditional-request caching for the backend
// client.
//
// The backend tags cacheable responses with an ETag header. The client
// stores the validated payload alongside the tag and replays the tag on the
// next request for the same method and path. When the backend answers
// 304 Not Modified, the stored payload is served instead of a fresh body.
//
// A 304 can also arrive when the local entry is gone, e.g. after the store
// was cleared on another device or the entry never made it to disk. The
// Manager signals that case by returning no result, and the request
// executor re-issues the request once without the conditional header so the
// backend responds with a full body that repopulates the cache.
//
// Entries live until ClearCaches removes them. The Store interface is the
// extension point for bounded lifetimes: the Redis store accepts a TTL, the
// in-memory and LevelDB stores keep entries indefinitely.
package etag
