// Package catalog is the file-based podcast catalog the deploy service reads
// feeds, artwork and published episodes from.
//
// Each podcast lives in <catalog_dir>/<podcastID>/podcast.toml:
//
//	title = "Example Show"
//	link = "https://example.com"
//	description = "Weekly notes"
//	artwork = "cover.jpg"
//
//	[[episodes]]
//	id = "ep1"
//	title = "Pilot"
//	status = "published"
//	publish_at = 2026-01-05T09:00:00Z
//	audio = "audio/ep1.mp3"
//	transcript = "audio/ep1.srt"
//
// Relative paths are resolved against the podcast directory.
package catalog
