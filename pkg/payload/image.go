/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package payload

import (
	"encoding/base64"
	"strings"
)

var imageKeys = [...]string{"width", "height", "encoding", "data"}

// byteValues holds one boxed Number per byte so frame expansion does not
// allocate per pixel.
var byteValues = func() (vals [256]Value) {
	for i := range vals {
		vals[i] = Int(int64(i))
	}

	return vals
}()

// ImageNormalizer rewrites the data field of image messages on a fixed set of
// topics into a Sequence of byte values.
type ImageNormalizer struct {
	topics map[string]struct{}
}

// NewImageNormalizer returns a normalizer for the given image-bearing topics.
func NewImageNormalizer(topics []string) *ImageNormalizer {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	return &ImageNormalizer{topics: set}
}

// Applies reports whether topic carries image frames.
func (n *ImageNormalizer) Applies(topic string) bool {
	_, ok := n.topics[topic]
	return ok
}

// Normalize returns v unchanged for topics that do not carry images and
// NormalizeImage(v) for those that do.
func (n *ImageNormalizer) Normalize(topic string, v Value) Value {
	if !n.Applies(topic) {
		return v
	}

	return NormalizeImage(v)
}

// NormalizeImage converts the data field of an image map to a Sequence of
// byte values. Raw bytes are expanded, base64 text is decoded and numeric
// sequences pass through. Anything else yields an ErrorMarker. An ErrorMarker
// input is returned as is so the original decode failure stays visible.
func NormalizeImage(v Value) Value {
	if marker, ok := v.(ErrorMarker); ok {
		return marker
	}

	m, ok := v.(Map)
	if !ok {
		return Error(MsgImageStructure)
	}

	for _, k := range imageKeys {
		if _, found := m[k]; !found {
			return Error(MsgImageStructure)
		}
	}

	var data Sequence

	switch d := m["data"].(type) {
	case Bytes:
		data = byteSequence(d)
	case String:
		raw, ok := decodeBase64(string(d))
		if !ok {
			return Error(MsgInvalidBase64)
		}

		data = byteSequence(raw)
	case Sequence:
		for _, e := range d {
			if _, isNum := e.(Number); !isNum {
				return Error(MsgImageDataType)
			}
		}

		return v
	default:
		return Error(MsgImageDataType)
	}

	out := make(Map, len(m))
	for k, e := range m {
		out[k] = e
	}

	out["data"] = data

	return out
}

// decodeBase64 is strict: unlike the stdlib decoder it does not skip line breaks.
func decodeBase64(s string) ([]byte, bool) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}

	return raw, true
}

func byteSequence(b []byte) Sequence {
	seq := make(Sequence, len(b))
	for i, c := range b {
		seq[i] = byteValues[c]
	}

	return seq
}
