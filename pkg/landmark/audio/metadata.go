package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/dhowden/tag"
)

type Metadata struct {
	Filename    string
	Title       string
	Artist      string
	Album       string
	Encoder     string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
}

type ffprobeOutput struct {
	Format struct {
		Filename string            `json:"filename"`
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// tagValue looks a tag up case-insensitively; containers disagree on case.
func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func ReadMetadataFFmpeg(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, decodeErr("ffprobe", err)
	}
	return parseProbe(path, out)
}

func parseProbe(path string, out []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, decodeErr("parsing ffprobe output", err)
	}

	audioStream := probe.firstAudioStream()
	if audioStream == nil {
		return nil, decodeErr("no audio stream found", nil)
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(audioStream.SampleRate)

	return &Metadata{
		Filename:    filepath.Base(path),
		Title:       tagValue(probe.Format.Tags, "title"),
		Artist:      tagValue(probe.Format.Tags, "artist"),
		Album:       tagValue(probe.Format.Tags, "album"),
		Encoder:     tagValue(probe.Format.Tags, "encoder"),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    audioStream.Channels,
		BitDepth:    audioStream.BitsPerSample,
		Format:      probe.Format.Format,
	}, nil
}

// Tags holds embedded ID3/MP4/FLAC/OGG metadata.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Format string
}

// ReadTags reads embedded tags without ffmpeg. Files with no recognised tag
// block return empty Tags and no error.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return Tags{}, nil
	}
	if err != nil {
		return Tags{}, err
	}
	return Tags{
		Title:  strings.TrimSpace(m.Title()),
		Artist: strings.TrimSpace(m.Artist()),
		Album:  strings.TrimSpace(m.Album()),
		Format: string(m.Format()),
	}, nil
}

// Checksum is an xxhash64 over the samples quantized to 16 bits, so the
// same decoded audio always gets the same value.
func Checksum(samples []float64) uint64 {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		q := int16(math.Round(math.Max(-1, math.Min(1, s)) * math.MaxInt16))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(q))
	}
	return xxhash.Checksum64(buf)
}
