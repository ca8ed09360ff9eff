package message

// MaxChannels caps the channels subscribed per platform.
const MaxChannels = 10

// Targets is the set of channels a connection subscribes to.
type Targets struct {
	Twitch []string `json:"twitch"`
	Kick   []string `json:"kick"`
}

// Get returns the channel list for p.
func (t Targets) Get(p Platform) []string {
	switch p {
	case Twitch:
		return t.Twitch
	case Kick:
		return t.Kick
	}
	return nil
}

// Set replaces the channel list for p.
func (t *Targets) Set(p Platform, channels []string) {
	switch p {
	case Twitch:
		t.Twitch = channels
	case Kick:
		t.Kick = channels
	}
}

// Empty reports whether no channel is configured on any platform.
func (t Targets) Empty() bool {
	return len(t.Twitch) == 0 && len(t.Kick) == 0
}

// Count is the number of channels across platforms.
func (t Targets) Count() int {
	return len(t.Twitch) + len(t.Kick)
}

// Contains reports whether channel is targeted on p.
func (t Targets) Contains(p Platform, channel string) bool {
	for _, c := range t.Get(p) {
		if c == channel {
			return true
		}
	}
	return false
}

// Equal compares both lists element-wise; order matters.
func (t Targets) Equal(o Targets) bool {
	return sameList(t.Twitch, o.Twitch) && sameList(t.Kick, o.Kick)
}

// Clone returns a deep copy with non-nil slices.
func (t Targets) Clone() Targets {
	return Targets{
		Twitch: append([]string{}, t.Twitch...),
		Kick:   append([]string{}, t.Kick...),
	}
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
