package transcoding

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

type ProbeResult struct {
	Duration   *float64
	Width      *int
	Height     *int
	Bitrate    int64
	Format     string
	VideoCodec string
	AudioCodec string
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func probe(ctx context.Context, r Runner, ffprobe, path string) (*ProbeResult, error) {
	if ffprobe == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}
	out, err := r.Run(ctx, ffprobe, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	res := &ProbeResult{Format: raw.Format.FormatName}
	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil && d > 0 {
		res.Duration = &d
	}
	if br, err := strconv.ParseInt(raw.Format.BitRate, 10, 64); err == nil {
		res.Bitrate = br
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec != "" {
				continue
			}
			res.VideoCodec = s.CodecName
			if s.Width > 0 && s.Height > 0 {
				w, h := s.Width, s.Height
				res.Width, res.Height = &w, &h
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
		if res.Duration == nil {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
				res.Duration = &d
			}
		}
	}
	return res, nil
}
