package domain

// Partner is a tenant organization delivering work on behalf of the owner.
type Partner struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	Status    string `json:"status" enum:"active,inactive"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PartnerStats are rollup counters rewritten wholesale by the aggregator.
type PartnerStats struct {
	PartnerID       string `json:"partner_id"`
	TotalProjects   int    `json:"total_projects"`
	TotalModules    int    `json:"total_modules"`
	AcceptedModules int    `json:"accepted_modules"`
	TotalStories    int    `json:"total_stories"`
	AcceptedStories int    `json:"accepted_stories"`
	RecomputedAt    string `json:"recomputed_at" format:"date-time"`
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PartnerID   *string `json:"partner_id,omitempty"`
	PartnerName string  `json:"partner_name,omitempty"`
	ManagerID   string  `json:"manager_id,omitempty"`
	Status      string  `json:"status" enum:"active,paused,archived"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Delivery is the handoff block shared by deliverable entities.
type Delivery struct {
	PartnerID   *string `json:"partner_id,omitempty"`
	DeliveredBy *string `json:"delivered_by,omitempty"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
	Note        string  `json:"note,omitempty"`
	CommitRef   string  `json:"commit_ref,omitempty"`
}

// Approval records the accept/reject decision on a delivery.
type Approval struct {
	ApprovedBy *string `json:"approved_by,omitempty"`
	ApprovedAt *string `json:"approved_at,omitempty" format:"date-time"`
	Note       string  `json:"note,omitempty"`
}

type Module struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"planning,in_development,delivered,accepted,rejected,closed"`
	DeliveryStatus string   `json:"delivery_status" enum:"none,pending,accepted,rejected"`
	Delivery       Delivery `json:"delivery"`
	Approval       Approval `json:"approval"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type UserStory struct {
	ID             string   `json:"id"`
	ModuleID       string   `json:"module_id"`
	ProjectID      string   `json:"project_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"planning,in_development,delivered,accepted,rejected,closed"`
	DeliveryStatus string   `json:"delivery_status" enum:"none,pending,accepted,rejected"`
	Delivery       Delivery `json:"delivery"`
	Approval       Approval `json:"approval"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// StoryStats are rollup counters for a story's tasks and bugs.
type StoryStats struct {
	StoryID      string `json:"story_id"`
	TotalTasks   int    `json:"total_tasks"`
	DoneTasks    int    `json:"done_tasks"`
	TotalBugs    int    `json:"total_bugs"`
	ResolvedBugs int    `json:"resolved_bugs"`
	RecomputedAt string `json:"recomputed_at" format:"date-time"`
}

type Task struct {
	ID         string  `json:"id"`
	StoryID    string  `json:"story_id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status" enum:"open,in_progress,done,canceled"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Bug struct {
	ID         string  `json:"id"`
	StoryID    string  `json:"story_id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Severity   string  `json:"severity,omitempty" enum:"low,medium,high,critical"`
	Status     string  `json:"status" enum:"open,in_progress,resolved,closed,reopened"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role" enum:"partner,ba,po,pm,dev,qa,devops,admin"`
	PartnerID *string `json:"partner_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// DataScope holds the explicit id sets a non-partner actor may access.
type DataScope struct {
	ProjectIDs []string `json:"project_ids,omitempty"`
	ModuleIDs  []string `json:"module_ids,omitempty"`
	PartnerIDs []string `json:"partner_ids,omitempty"`
}

// HistoryEntry is one row of the append-only audit trail.
type HistoryEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Note       string `json:"note,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}

// Attachment is a stored file descriptor; the core never holds file bytes.
type Attachment struct {
	ID         string `json:"id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Mimetype   string `json:"mimetype,omitempty"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
