package relays

// Entry is a single relay in relays.yaml
type Entry struct {
	URL   string `yaml:"url"`
	Read  *bool  `yaml:"read"`
	Write *bool  `yaml:"write"`
}

// Config is the root structure for relays.yaml
//
//	relays:
//	  - url: wss://relay.example.com
//	  - url: wss://archive.example.com
//	    write: false
type Config struct {
	Relays []Entry `yaml:"relays"`
}
