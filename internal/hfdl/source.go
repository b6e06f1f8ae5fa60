package hfdl

// Source identifies an aircraft by its HFDL flight number when its ICAO
// address is unknown.
type Source struct {
	Flight string `json:"flight"`
}

// Key implements location.Source.
func (s Source) Key() string {
	return "hfdl:" + s.Flight
}

// Kind implements location.Source.
func (s Source) Kind() string {
	return "hfdl"
}
