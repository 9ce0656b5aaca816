package tracker

// GraphQL documents. Lists request a single page of pageSize nodes.

const pageSize = 250

const teamFields = `id key name`

const projectFields = `
	id name description content state url targetDate startDate createdAt updatedAt archivedAt
	teams { nodes { ` + teamFields + ` } }`

const milestoneFields = `id name description targetDate`

const issueFields = `
	id identifier title description priority estimate url createdAt updatedAt
	state { id name type }
	team { ` + teamFields + ` }
	project { id name }
	projectMilestone { ` + milestoneFields + ` }
	parent { id identifier title }
	assignee { id name displayName email }
	labels { nodes { id name color } }`

const (
	queryTeams = `query Teams($first: Int) {
	teams(first: $first) { nodes { ` + teamFields + ` } }
}`

	queryTeam = `query Team($id: String!) {
	team(id: $id) { ` + teamFields + ` }
}`

	queryWorkflowStates = `query WorkflowStates($id: String!) {
	team(id: $id) { states { nodes { id name type } } }
}`

	queryLabels = `query Labels($id: String!) {
	team(id: $id) { labels { nodes { id name color } } }
}`

	queryProjects = `query Projects($first: Int, $filter: ProjectFilter, $includeArchived: Boolean) {
	projects(first: $first, filter: $filter, includeArchived: $includeArchived) { nodes { ` + projectFields + ` } }
}`

	queryProject = `query Project($id: String!) {
	project(id: $id) {` + projectFields + `
		projectMilestones { nodes { ` + milestoneFields + ` } }
	}
}`

	queryProjectMilestones = `query ProjectMilestones($id: String!) {
	project(id: $id) { projectMilestones { nodes { ` + milestoneFields + ` } } }
}`

	mutationCreateProject = `mutation ProjectCreate($input: ProjectCreateInput!) {
	projectCreate(input: $input) { success project {` + projectFields + ` } }
}`

	mutationUpdateProject = `mutation ProjectUpdate($id: String!, $input: ProjectUpdateInput!) {
	projectUpdate(id: $id, input: $input) { success project {` + projectFields + ` } }
}`

	mutationCreateMilestone = `mutation ProjectMilestoneCreate($input: ProjectMilestoneCreateInput!) {
	projectMilestoneCreate(input: $input) { success projectMilestone { ` + milestoneFields + ` } }
}`

	queryIssues = `query Issues($first: Int, $filter: IssueFilter) {
	issues(first: $first, filter: $filter) { nodes {` + issueFields + ` } }
}`

	queryIssue = `query Issue($id: String!) {
	issue(id: $id) {` + issueFields + ` }
}`

	querySubIssues = `query SubIssues($id: String!, $first: Int) {
	issue(id: $id) { children(first: $first) { nodes {` + issueFields + ` } } }
}`

	mutationCreateIssue = `mutation IssueCreate($input: IssueCreateInput!) {
	issueCreate(input: $input) { success issue {` + issueFields + ` } }
}`

	mutationUpdateIssue = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) { success issue {` + issueFields + ` } }
}`

	mutationCreateComment = `mutation CommentCreate($input: CommentCreateInput!) {
	commentCreate(input: $input) { success comment { id } }
}`

	queryViewer = `query Viewer {
	viewer { id name displayName email }
}`
)
