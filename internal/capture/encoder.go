// ABOUTME: Built-in voice encoders: compressed IMA-ADPCM WAV primary, raw PCM blob fallback
// ABOUTME: The fallback assembles accumulated chunks into one headerless blob

package capture

import (
	"encoding/binary"
	"fmt"
)

// adpcmBlockAlign is the IMA-ADPCM block size in bytes. Each block carries a
// 4-byte header (predictor, step index) plus two samples per payload byte.
const adpcmBlockAlign = 256

// NewADPCMEncoder is the primary encoder factory: 16-bit mono PCM compressed
// to IMA-ADPCM in a WAV container, roughly 4:1. Other formats fail the
// capability probe so the session can switch to the fallback.
func NewADPCMEncoder(f Format) (Encoder, error) {
	if f.BitsPerSample != 16 || f.Channels != 1 {
		return nil, fmt.Errorf("adpcm encoder requires 16-bit mono PCM, got %d-bit %d-channel", f.BitsPerSample, f.Channels)
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("adpcm encoder requires a positive sample rate, got %d", f.SampleRate)
	}
	return &adpcmEncoder{format: f}, nil
}

// NewRawEncoder is the fallback encoder factory: accumulated PCM chunks
// assembled into one headerless blob, no compression, different container.
func NewRawEncoder(f Format) (Encoder, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("raw encoder requires a valid format, got %+v", f)
	}
	return &rawEncoder{format: f}, nil
}

// rawEncoder concatenates chunks as-is.
type rawEncoder struct {
	format Format
	chunks [][]byte
	closed bool
}

func (e *rawEncoder) Write(chunk []byte) error {
	if e.closed {
		return fmt.Errorf("raw encoder is closed")
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	e.chunks = append(e.chunks, buf)
	return nil
}

func (e *rawEncoder) Finalize() ([]byte, string, error) {
	if e.closed {
		return nil, "", fmt.Errorf("raw encoder is closed")
	}
	var total int
	for _, c := range e.chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range e.chunks {
		out = append(out, c...)
	}
	mime := fmt.Sprintf("audio/L16;rate=%d;channels=%d", e.format.SampleRate, e.format.Channels)
	return out, mime, nil
}

func (e *rawEncoder) Close() error {
	e.closed = true
	e.chunks = nil
	return nil
}

// adpcmEncoder buffers 16-bit samples and compresses at finalize.
type adpcmEncoder struct {
	format   Format
	samples  []int16
	leftover []byte // odd trailing byte from a chunk split mid-sample
	closed   bool
}

func (e *adpcmEncoder) Write(chunk []byte) error {
	if e.closed {
		return fmt.Errorf("adpcm encoder is closed")
	}
	data := chunk
	if len(e.leftover) > 0 {
		data = append(e.leftover, chunk...)
		e.leftover = nil
	}
	n := len(data) / 2 * 2
	for i := 0; i < n; i += 2 {
		e.samples = append(e.samples, int16(binary.LittleEndian.Uint16(data[i:i+2])))
	}
	if n < len(data) {
		e.leftover = []byte{data[n]}
	}
	return nil
}

func (e *adpcmEncoder) Finalize() ([]byte, string, error) {
	if e.closed {
		return nil, "", fmt.Errorf("adpcm encoder is closed")
	}
	payload := encodeADPCM(e.samples)
	return buildADPCMWav(e.format.SampleRate, len(e.samples), payload), "audio/wav", nil
}

func (e *adpcmEncoder) Close() error {
	e.closed = true
	e.samples = nil
	e.leftover = nil
	return nil
}

var adpcmIndexTable = [16]int{-1, -1, -1, -1, 2, 4, 6, 8, -1, -1, -1, -1, 2, 4, 6, 8}

var adpcmStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

// samplesPerBlock for mono: the block header carries the first sample, each
// payload byte carries two more.
const adpcmSamplesPerBlock = (adpcmBlockAlign-4)*2 + 1

// encodeADPCM compresses mono 16-bit samples into IMA-ADPCM blocks.
func encodeADPCM(samples []int16) []byte {
	var out []byte
	for start := 0; start < len(samples); start += adpcmSamplesPerBlock {
		end := start + adpcmSamplesPerBlock
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, encodeBlock(samples[start:end])...)
	}
	return out
}

// encodeBlock emits one fixed-size block: 4-byte header then packed nibbles.
// Short final blocks are zero-padded to blockAlign.
func encodeBlock(samples []int16) []byte {
	block := make([]byte, adpcmBlockAlign)
	predictor := int(samples[0])
	stepIndex := 0

	binary.LittleEndian.PutUint16(block[0:2], uint16(int16(predictor)))
	block[2] = byte(stepIndex)
	block[3] = 0

	pos := 4
	var nibbleBuf byte
	haveNibble := false

	for _, s := range samples[1:] {
		nibble := encodeSample(int(s), &predictor, &stepIndex)
		if !haveNibble {
			nibbleBuf = nibble
			haveNibble = true
		} else {
			block[pos] = nibbleBuf | nibble<<4
			pos++
			haveNibble = false
		}
	}
	if haveNibble {
		block[pos] = nibbleBuf
	}
	return block
}

// encodeSample quantizes one sample difference into a 4-bit code, updating
// predictor and step index in place.
func encodeSample(sample int, predictor *int, stepIndex *int) byte {
	step := adpcmStepTable[*stepIndex]
	diff := sample - *predictor

	var nibble byte
	if diff < 0 {
		nibble = 8
		diff = -diff
	}

	delta := step >> 3
	if diff >= step {
		nibble |= 4
		diff -= step
		delta += step
	}
	if diff >= step>>1 {
		nibble |= 2
		diff -= step >> 1
		delta += step >> 1
	}
	if diff >= step>>2 {
		nibble |= 1
		delta += step >> 2
	}

	if nibble&8 != 0 {
		*predictor -= delta
	} else {
		*predictor += delta
	}
	if *predictor > 32767 {
		*predictor = 32767
	} else if *predictor < -32768 {
		*predictor = -32768
	}

	*stepIndex += adpcmIndexTable[nibble]
	if *stepIndex < 0 {
		*stepIndex = 0
	} else if *stepIndex > 88 {
		*stepIndex = 88
	}

	return nibble
}

// buildADPCMWav wraps compressed payload in a WAV container with the
// IMA-ADPCM format tag and the fact chunk compressed formats require.
func buildADPCMWav(sampleRate, sampleCount int, payload []byte) []byte {
	const fmtChunkSize = 20 // 16 base + cbSize(2) + samplesPerBlock(2)
	const factChunkSize = 4
	dataSize := len(payload)
	riffSize := 4 + (8 + fmtChunkSize) + (8 + factChunkSize) + (8 + dataSize)

	avgBytesPerSec := sampleRate * adpcmBlockAlign / adpcmSamplesPerBlock

	buf := make([]byte, 0, 12+8+fmtChunkSize+8+factChunkSize+8+dataSize)
	le := binary.LittleEndian

	appendU16 := func(v int) { buf = le.AppendUint16(buf, uint16(v)) }
	appendU32 := func(v int) { buf = le.AppendUint32(buf, uint32(v)) }

	buf = append(buf, "RIFF"...)
	appendU32(riffSize)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	appendU32(fmtChunkSize)
	appendU16(0x11) // WAVE_FORMAT_IMA_ADPCM
	appendU16(1)    // mono
	appendU32(sampleRate)
	appendU32(avgBytesPerSec)
	appendU16(adpcmBlockAlign)
	appendU16(4) // bits per (compressed) sample
	appendU16(2) // cbSize
	appendU16(adpcmSamplesPerBlock)

	buf = append(buf, "fact"...)
	appendU32(factChunkSize)
	appendU32(sampleCount)

	buf = append(buf, "data"...)
	appendU32(dataSize)
	buf = append(buf, payload...)

	return buf
}
