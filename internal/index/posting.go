package index

// Token is one analyzed term occurrence. Positions may have gaps where the
// analyzer dropped tokens; they are kept exactly as given.
type Token struct {
	Term     string
	Position int
}

type Posting struct {
	DocID     int
	Frequency int
	Positions []int
}

type PostingList []Posting

// TermEntry is the postings list of one term in one field.
type TermEntry struct {
	Field    string
	Term     string
	DocFreq  int
	CollFreq int64
	Postings PostingList
}
