package model

import "time"

// Survey is a persistent voice survey created by a host
type Survey struct {
	ID        string     `json:"id" bson:"_id,omitempty"`
	HostID    string     `json:"hostId" bson:"hostId"`
	Title     string     `json:"title" bson:"title"`
	Questions []Question `json:"questions" bson:"questions"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// Question looks up a question by id
func (s *Survey) Question(id string) (*Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}
