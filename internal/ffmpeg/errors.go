package ffmpeg

import "regexp"

// Pre-compiled regexes for classifying ffmpeg stderr during reassembly.
// The encode command maps input 0 (frame images) to video and input 1
// (the original file) to audio, so stream-1 errors point at the audio
// remux path rather than the video encode.
var (
	reAudioRemux = regexp.MustCompile(
		`(?i)Stream map '1:a' matches no streams|` +
			`Could not find tag for codec [a-z0-9_]+ in stream #1|` +
			`Error initializing output stream 1:|` +
			`could not find codec parameters for stream \d+ \(Audio|` +
			`Error opening input file .*\.(mp4|mkv|mov|m4v|webm|avi)`)

	reNoSuchFile = regexp.MustCompile(
		`(?i)No such file or directory|Could find no file with path`)
)

// MatchAudioRemuxIssue reports whether stderr points at the audio copy path.
func MatchAudioRemuxIssue(stderr string) bool {
	return reAudioRemux.MatchString(stderr)
}

// MatchMissingInput reports whether stderr indicates a missing input file
// or an empty image sequence.
func MatchMissingInput(stderr string) bool {
	return reNoSuchFile.MatchString(stderr)
}
