// Package capture launches and controls the external recorder process.
//
// A Launcher resolves a target's page URL to a direct stream URL,
// starts the capture binary writing one segment file, and hands back a
// Handle for the supervisor to signal and observe. The default
// implementation drives ffmpeg with stream-copy output and streamlink
// as the URL resolver; tests inject fakes through the Starter and
// Executor seams.
package capture
