package grpcclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
)

func detectRequest(img image.Image, minConfidence float64) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"image":          base64.StdEncoding.EncodeToString(buf.Bytes()),
		"format":         imageFormat,
		"min_confidence": minConfidence,
	})
}

// parseSegments reads {"segments": [{"text", "confidence", "polygon": [[x, y], ...]}]}.
func parseSegments(resp *structpb.Struct) ([]recognition.Segment, error) {
	list := resp.GetFields()["segments"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("response has no segments list")
	}
	segs := make([]recognition.Segment, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("segment %d is not an object", i)
		}
		seg := recognition.Segment{
			Text:       fields["text"].GetStringValue(),
			Confidence: fields["confidence"].GetNumberValue(),
		}
		for _, p := range fields["polygon"].GetListValue().GetValues() {
			xy := p.GetListValue().GetValues()
			if len(xy) != 2 {
				return nil, fmt.Errorf("segment %d has a malformed polygon point", i)
			}
			seg.Polygon = append(seg.Polygon, recognition.Point{X: xy[0].GetNumberValue(), Y: xy[1].GetNumberValue()})
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func translateRequest(texts []string, pair translation.Pair) (*structpb.Struct, error) {
	items := make([]any, len(texts))
	for i, t := range texts {
		items[i] = t
	}
	return structpb.NewStruct(map[string]any{
		"texts":  items,
		"source": pair.Source,
		"target": pair.Target,
	})
}

func parseTranslations(resp *structpb.Struct) ([]string, error) {
	list := resp.GetFields()["translations"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("response has no translations list")
	}
	out := make([]string, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("translation %d is not a string", i)
		}
		out[i] = s.StringValue
	}
	return out, nil
}
