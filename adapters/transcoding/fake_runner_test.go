package transcoding

import (
	"context"
	"os"
	"strings"
	"sync"
)

type call struct {
	tool string
	args []string
}

// fakeRunner writes a placeholder file to the last argument of every
// ffmpeg call and answers ffprobe with a canned document.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []call
	probeOut    string
	probeErr    error
	failOnMatch string
}

func (f *fakeRunner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{tool: tool, args: args})
	f.mu.Unlock()

	joined := strings.Join(args, " ")
	if f.failOnMatch != "" && strings.Contains(joined, f.failOnMatch) {
		return nil, &ToolError{Tool: tool, Args: args, ExitCode: 1, Stderr: "fake failure"}
	}
	if strings.HasSuffix(tool, "ffprobe") {
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(f.probeOut), nil
	}
	out := args[len(args)-1]
	return nil, os.WriteFile(out, []byte("fake "+out), 0o644)
}

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.480000", "bit_rate": "2500000"}
}`
