package domain

// Story is a success story surfaced to users with a matching category.
type Story struct {
	StoryID  string `json:"storyId"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Location string `json:"location,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Course carries the fields of a course record the progress flow needs.
type Course struct {
	CourseID     string `json:"courseId"`
	Title        string `json:"title,omitempty"`
	Category     string `json:"category,omitempty"`
	TotalLessons int    `json:"totalLessons,omitempty"`
}
