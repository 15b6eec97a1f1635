package settings

// DefaultVoiceID is the remote voice used when none is configured (Bella).
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// RemoteVoice is an entry of the remote provider's premade voice catalog.
type RemoteVoice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

var remoteVoices = []RemoteVoice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Bella", Gender: "Female"},
	{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Gender: "Female"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Elli", Gender: "Female"},
	{ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Adam", Gender: "Male"},
	{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh", Gender: "Male"},
	{ID: "pNInz6obpgDQGcFmaJgB", Name: "Sam", Gender: "Male"},
}

// RemoteVoices returns a copy of the premade voice catalog.
func RemoteVoices() []RemoteVoice {
	out := make([]RemoteVoice, len(remoteVoices))
	copy(out, remoteVoices)
	return out
}

// LookupRemoteVoice reports whether id is a known premade voice.
func LookupRemoteVoice(id string) (RemoteVoice, bool) {
	for _, v := range remoteVoices {
		if v.ID == id {
			return v, true
		}
	}
	return RemoteVoice{}, false
}
