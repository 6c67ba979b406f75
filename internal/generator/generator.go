package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"anyback-go/internal/anyback"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/space"
)

const (
	minBodyBytes = 128
	idAlphabet   = "abcdefghijklmnopqrstuvwxyz234567"
	idLength     = 52
	fillerLine   = "lorem ipsum archive integrity "
)

// Object is one generated object.
type Object struct {
	ID        string
	Name      string
	TypeKey   string
	Iteration int
	// Token is a unique marker embedded in the body, for checking that
	// content survives a round trip.
	Token    string
	Body     string
	Links    []string
	Archived bool
	Modified time.Time
	File     []byte
	FileExt  string
}

// BodyBytes is what the object counts against the body caps.
func (o Object) BodyBytes() int { return len(o.Body) + len(o.File) }

// Snapshot encodes the object as a protobuf snapshot.
func (o Object) Snapshot() ([]byte, error) {
	details := map[string]any{
		snapshot.DetailID:               o.ID,
		snapshot.DetailName:             o.Name,
		snapshot.DetailType:             o.TypeKey,
		snapshot.DetailLastModifiedDate: o.Modified.Unix(),
	}
	layout := snapshot.LayoutBasic
	if o.TypeKey == "task" {
		layout = snapshot.LayoutTodo
	}
	if o.File != nil {
		layout = snapshot.LayoutFile
		details[snapshot.DetailFileExt] = o.FileExt
	}
	details[snapshot.DetailLayout] = layout
	if o.Archived {
		details[snapshot.DetailIsArchived] = true
	}
	if len(o.Links) > 0 {
		links := make([]any, len(o.Links))
		for i, l := range o.Links {
			links[i] = l
		}
		details[snapshot.DetailLinks] = links
	}

	var blocks []*snapshot.Block
	if o.Body != "" {
		root := snapshot.ContainerBlock(o.ID)
		blocks = append(blocks, root)
		for i, line := range strings.Split(o.Body, "\n") {
			if line == "" {
				continue
			}
			id := fmt.Sprintf("%s-b%d", o.ID, i)
			style := snapshot.TextParagraph
			if text, ok := strings.CutPrefix(line, "# "); ok {
				line, style = text, snapshot.TextHeader1
			}
			root.ChildrenIDs = append(root.ChildrenIDs, id)
			blocks = append(blocks, snapshot.TextBlock(id, line, style))
		}
	}

	snap, err := snapshot.New(snapshot.SmartBlockPage, details, blocks...)
	if err != nil {
		return nil, fmt.Errorf("building snapshot %s: %w", o.ID, err)
	}
	return snapshot.Encode(snap)
}

// Plan is the full generated sequence for one profile and seed.
type Plan struct {
	Profile    Profile
	Seed       uint64
	Iterations [][]Object
}

// Objects returns every object in generation order.
func (p *Plan) Objects() []Object {
	var out []Object
	for _, it := range p.Iterations {
		out = append(out, it...)
	}
	return out
}

// BodyBytes sums BodyBytes over the plan.
func (p *Plan) BodyBytes() int {
	n := 0
	for _, it := range p.Iterations {
		for _, o := range it {
			n += o.BodyBytes()
		}
	}
	return n
}

// Generate builds the plan for prof and seed. The result depends only on its
// inputs; base anchors the modification times.
func Generate(prof Profile, seed uint64, base time.Time) (*Plan, error) {
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	g := &planner{
		prof: prof,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		base: base,
	}
	plan := &Plan{Profile: prof, Seed: seed}
	for it := 0; it < prof.Iterations; it++ {
		if g.objects >= prof.MaxTotalObjects || g.remainingBody() < minBodyBytes {
			break
		}
		batch := g.iteration(it)
		if len(batch) == 0 {
			break
		}
		plan.Iterations = append(plan.Iterations, batch)
	}
	return plan, nil
}

type planner struct {
	prof      Profile
	rng       *rand.Rand
	base      time.Time
	objects   int
	bodyBytes int
}

func (g *planner) remainingBody() int { return g.prof.MaxTotalBodyBytes - g.bodyBytes }

func (g *planner) iteration(it int) []Object {
	budget := g.prof.MaxTotalObjects - g.objects
	n := min(1+g.rng.IntN(g.prof.MaxObjectsPerIteration), budget)

	var batch []Object
	for i := 0; i < n; i++ {
		limit := min(g.prof.MaxBodyBytes, g.remainingBody())
		if limit < minBodyBytes {
			break
		}
		o := Object{
			ID:        g.objectID(),
			TypeKey:   g.prof.TypeKeys[g.rng.IntN(len(g.prof.TypeKeys))],
			Iteration: it,
			Token:     fmt.Sprintf("semantic-%d-%d-%08x", it, i, g.rng.Uint32()),
			Archived:  g.rng.IntN(10) == 0,
			Modified:  g.modified(),
		}
		o.Name = fmt.Sprintf("gen-it%d-obj%d-%08x", it, i, g.rng.Uint32())
		o.Body, o.Links = g.body(limit, o.Token, batch)
		g.add(&batch, o)
	}

	// Every other iteration carries a file attachment when the caps allow.
	if it%2 == 0 && len(batch) < budget {
		limit := min(g.prof.MaxBodyBytes, g.remainingBody())
		if limit >= minBodyBytes {
			size := minBodyBytes + g.rng.IntN(limit-minBodyBytes+1)
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(g.rng.UintN(256))
			}
			g.add(&batch, Object{
				ID:        g.objectID(),
				Name:      fmt.Sprintf("gen-it%d-attachment-%08x", it, g.rng.Uint32()),
				TypeKey:   "file",
				Iteration: it,
				Modified:  g.modified(),
				File:      data,
				FileExt:   "bin",
			})
		}
	}
	return batch
}

func (g *planner) add(batch *[]Object, o Object) {
	*batch = append(*batch, o)
	g.objects++
	g.bodyBytes += o.BodyBytes()
}

func (g *planner) objectID() string {
	var sb strings.Builder
	sb.WriteString("bafyrei")
	for i := 0; i < idLength; i++ {
		sb.WriteByte(idAlphabet[g.rng.IntN(len(idAlphabet))])
	}
	return sb.String()
}

func (g *planner) modified() time.Time {
	return g.base.Add(-time.Duration(g.rng.IntN(90*24*60)) * time.Minute).Truncate(time.Second)
}

// body returns a text of between minBodyBytes and limit bytes, linking to
// earlier objects of the batch when there are any.
func (g *planner) body(limit int, token string, batch []Object) (string, []string) {
	target := minBodyBytes + g.rng.IntN(limit-minBodyBytes+1)
	var sb strings.Builder
	fmt.Fprintf(&sb, "# generated\nseed=%d\ntoken=%s\n", g.rng.Uint64(), token)

	var links []string
	if len(batch) > 0 {
		ref := batch[g.rng.IntN(len(batch))]
		fmt.Fprintf(&sb, "see %s\n", ref.Name)
		links = append(links, ref.ID)
	}
	for sb.Len() < target {
		fmt.Fprintf(&sb, "%s%d\n", fillerLine, g.rng.Uint32())
	}
	// The header and token line always fit in minBodyBytes.
	body := sb.String()
	if len(body) > target {
		body = body[:target]
	}
	return body, links
}

// Result summarises a Seed run.
type Result struct {
	Created    []string
	Iterations int
	BodyBytes  int
	// Truncated is set when the time budget stopped the run early.
	Truncated bool
}

// Seed stores the plan into spaceID of store, one iteration at a time. The
// time budget is checked before each iteration, so an early stop keeps a
// prefix of the plan.
func Seed(ctx context.Context, store space.Store, spaceID string, plan *Plan, clock anyback.Clock) (*Result, error) {
	res := &Result{}
	start := clock.Now()
	for _, batch := range plan.Iterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if d := plan.Profile.MaxDuration; d > 0 && clock.Now().Sub(start) >= d {
			res.Truncated = true
			break
		}
		for _, o := range batch {
			data, err := o.Snapshot()
			if err != nil {
				return res, err
			}
			fileName := ""
			if o.File != nil {
				fileName = o.Name + "." + o.FileExt
			}
			obj, err := space.ObjectFromSnapshot(o.ID, data, o.File, fileName)
			if err != nil {
				return res, err
			}
			if err := store.PutObject(ctx, spaceID, obj); err != nil {
				return res, fmt.Errorf("storing generated object %s: %w", o.ID, err)
			}
			res.Created = append(res.Created, o.ID)
			res.BodyBytes += o.BodyBytes()
		}
		res.Iterations++
	}
	return res, nil
}
