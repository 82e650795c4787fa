// Package fieldmap renames form and profile keys to the key names each
// inference endpoint expects, and merges partial objects into one request
// payload. Everything here is pure: inputs are never mutated and the output
// depends only on the arguments.
//
// A Dictionary is ordered. Iterating it in order is what makes collision
// handling deterministic: pass-through keys are written first, then every
// rename in dictionary order, so the later-applied mapping wins.
package fieldmap

// Rename maps one internal key to its external name.
type Rename struct {
	From string
	To   string
}

// Dictionary is an ordered internal-name -> external-name table.
type Dictionary []Rename

// Lookup returns the external name for an internal key.
func (d Dictionary) Lookup(from string) (string, bool) {
	for _, r := range d {
		if r.From == from {
			return r.To, true
		}
	}
	return "", false
}

// Invert returns the external -> internal dictionary, preserving order.
func (d Dictionary) Invert() Dictionary {
	out := make(Dictionary, len(d))
	for i, r := range d {
		out[i] = Rename{From: r.To, To: r.From}
	}
	return out
}

// Normalize returns a new map where every key present in d is replaced by its
// external counterpart and all other keys pass through unchanged. Values are
// copied by assignment, never modified.
func Normalize(m map[string]any, d Dictionary) map[string]any {
	out := make(map[string]any, len(m))
	renamed := make(map[string]struct{}, len(d))
	for _, r := range d {
		renamed[r.From] = struct{}{}
	}
	for k, v := range m {
		if _, ok := renamed[k]; !ok {
			out[k] = v
		}
	}
	for _, r := range d {
		if v, ok := m[r.From]; ok {
			out[r.To] = v
		}
	}
	return out
}

// Merge shallow-merges parts left to right; later parts win on key collision.
// Nil parts are skipped.
func Merge(parts ...map[string]any) map[string]any {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(map[string]any, n)
	for _, p := range parts {
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

// Without returns a copy of m minus the given keys.
func Without(m map[string]any, keys ...string) map[string]any {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := drop[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// ProfileDictionary renames background-profile keys to the names used by the
// stress, study-plan and music models. Profiles written at registration use
// the short keys "family" and "parentedu"; the long forms come after them and
// win when both are present.
var ProfileDictionary = Dictionary{
	{From: "gender", To: "Gender"},
	{From: "hobbies", To: "Extracurricular Activities"},
	{From: "family", To: "Family Support"},
	{From: "familySupport", To: "Family Support"},
	{From: "parentedu", To: "Parent Education"},
	{From: "parentEducation", To: "Parent Education"},
	{From: "dalc", To: "Dalc"},
	{From: "walc", To: "Walc"},
}

// DoctorDictionary renames the doctor-recommendation inputs.
var DoctorDictionary = Dictionary{
	{From: "region", To: "Student Location"},
	{From: "stressLevel", To: "Stress Level"},
}
