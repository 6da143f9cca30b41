// Package memory provides in-memory implementations of the repository
// interfaces. They back service and handler tests with the same contracts
// the PostgreSQL implementations honor: uniqueness violations, cascades on
// entity deletion, atomic append of rows with their activities, and the
// archive count invariant.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
)

// Store holds all tables behind one mutex, mirroring the single shared
// database the real repositories talk to.
type Store struct {
	mu sync.Mutex

	types         map[string]*entities.Type
	entities      map[string]*entities.Entity
	attributes    map[string]*entities.Attribute
	relationships map[string]*entities.Relationship
	activities    []*entities.Activity
	archived      []*entities.Activity
	maskingRules  map[string]*entities.MaskingRule
	capabilities  map[string]entities.Capabilities
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		types:         make(map[string]*entities.Type),
		entities:      make(map[string]*entities.Entity),
		attributes:    make(map[string]*entities.Attribute),
		relationships: make(map[string]*entities.Relationship),
		maskingRules:  make(map[string]*entities.MaskingRule),
		capabilities:  make(map[string]entities.Capabilities),
	}
}

// GrantCapabilities seeds the capability table for a user.
func (s *Store) GrantCapabilities(userID string, caps entities.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[userID] = caps
}

// Types returns the TypeRepository view of the store.
func (s *Store) Types() repositories.TypeRepository { return &typeRepo{s} }

// Entities returns the EntityRepository view of the store.
func (s *Store) Entities() repositories.EntityRepository { return &entityRepo{s} }

// Attributes returns the AttributeRepository view of the store.
func (s *Store) Attributes() repositories.AttributeRepository { return &attributeRepo{s} }

// Relationships returns the RelationshipRepository view of the store.
func (s *Store) Relationships() repositories.RelationshipRepository { return &relationshipRepo{s} }

// Activities returns the ActivityRepository view of the store.
func (s *Store) Activities() repositories.ActivityRepository { return &activityRepo{s} }

// Masking returns the MaskingRepository view of the store.
func (s *Store) Masking() repositories.MaskingRepository { return &maskingRepo{s} }

// Capabilities returns the CapabilityRepository view of the store.
func (s *Store) Capabilities() repositories.CapabilityRepository { return &capabilityRepo{s} }

type typeRepo struct{ s *Store }

func (r *typeRepo) Create(ctx context.Context, typ *entities.Type, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.types {
		if existing.Name == typ.Name {
			return errors.Wrapf(entities.ErrDuplicateEntry, "type name %q already exists", typ.Name)
		}
	}
	cp := *typ
	r.s.types[typ.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *typeRepo) Update(ctx context.Context, typ *entities.Type, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.types[typ.ID]; !ok {
		return errors.Wrapf(entities.ErrNotFound, "type %s", typ.ID)
	}
	cp := *typ
	r.s.types[typ.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *typeRepo) GetByID(ctx context.Context, id string) (*entities.Type, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	typ, ok := r.s.types[id]
	if !ok {
		return nil, errors.Wrapf(entities.ErrNotFound, "type %s", id)
	}
	cp := *typ
	return &cp, nil
}

func (r *typeRepo) GetByName(ctx context.Context, name string) (*entities.Type, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, typ := range r.s.types {
		if typ.Name == name {
			cp := *typ
			return &cp, nil
		}
	}
	return nil, errors.Wrapf(entities.ErrNotFound, "type %q", name)
}

type entityRepo struct{ s *Store }

func (r *entityRepo) Create(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.entities {
		if existing.TypeID == entity.TypeID && existing.Name == entity.Name {
			return errors.Wrapf(entities.ErrDuplicateEntry,
				"entity %q already exists for type %s", entity.Name, entity.TypeID)
		}
	}
	cp := *entity
	r.s.entities[entity.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *entityRepo) Update(ctx context.Context, entity *entities.Entity, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.entities[entity.ID]; !ok {
		return errors.Wrapf(entities.ErrNotFound, "entity %s", entity.ID)
	}
	for _, existing := range r.s.entities {
		if existing.ID != entity.ID && existing.TypeID == entity.TypeID && existing.Name == entity.Name {
			return errors.Wrapf(entities.ErrDuplicateEntry,
				"entity %q already exists for type %s", entity.Name, entity.TypeID)
		}
	}
	cp := *entity
	r.s.entities[entity.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *entityRepo) Delete(ctx context.Context, id string, activities []*entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.entities[id]; !ok {
		return errors.Wrapf(entities.ErrNotFound, "entity %s", id)
	}
	delete(r.s.entities, id)

	// Cascade: owned attributes and outbound relationship edges.
	for attrID, attr := range r.s.attributes {
		if attr.EntityID == id {
			delete(r.s.attributes, attrID)
		}
	}
	for relID, rel := range r.s.relationships {
		if rel.ParentEntityID == id {
			delete(r.s.relationships, relID)
		}
	}

	for _, activity := range activities {
		r.s.appendLocked(activity)
	}
	return nil
}

func (r *entityRepo) GetByID(ctx context.Context, id string) (*entities.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entity, ok := r.s.entities[id]
	if !ok {
		return nil, errors.Wrapf(entities.ErrNotFound, "entity %s", id)
	}
	cp := *entity
	return &cp, nil
}

func (r *entityRepo) ExistsByTypeAndName(ctx context.Context, typeID, name string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, entity := range r.s.entities {
		if entity.TypeID == typeID && entity.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *entityRepo) Query(ctx context.Context, filter *repositories.EntityFilter) ([]*entities.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*entities.Entity
	for _, entity := range r.s.entities {
		if filter != nil {
			if filter.EntityID != "" && entity.ID != filter.EntityID {
				continue
			}
			if filter.TypeID != "" && entity.TypeID != filter.TypeID {
				continue
			}
			if filter.NameContains != "" &&
				!strings.Contains(strings.ToLower(entity.Name), strings.ToLower(filter.NameContains)) {
				continue
			}
		}
		cp := *entity
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *entityRepo) SummaryByType(ctx context.Context, ids []string, ranges []entities.TimeRange) ([]*repositories.EntitySummaryRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	groups := make(map[string]*repositories.EntitySummaryRow)
	for _, entity := range r.s.entities {
		if _, ok := idSet[entity.ID]; !ok {
			continue
		}
		if !entities.InAnyRange(entity.CreatedAt, ranges) {
			continue
		}
		row, ok := groups[entity.TypeID]
		if !ok {
			row = &repositories.EntitySummaryRow{
				TypeID:       entity.TypeID,
				MinCreatedAt: entity.CreatedAt,
				MaxCreatedAt: entity.CreatedAt,
			}
			groups[entity.TypeID] = row
		}
		row.Count++
		if entity.CreatedAt.Before(row.MinCreatedAt) {
			row.MinCreatedAt = entity.CreatedAt
		}
		if entity.CreatedAt.After(row.MaxCreatedAt) {
			row.MaxCreatedAt = entity.CreatedAt
		}
	}
	return sortedSummaries(groups), nil
}

type attributeRepo struct{ s *Store }

func (r *attributeRepo) Create(ctx context.Context, attr *entities.Attribute, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *attr
	r.s.attributes[attr.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *attributeRepo) GetByID(ctx context.Context, id string) (*entities.Attribute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	attr, ok := r.s.attributes[id]
	if !ok {
		return nil, errors.Wrapf(entities.ErrNotFound, "attribute %s", id)
	}
	cp := *attr
	return &cp, nil
}

func (r *attributeRepo) ListByEntity(ctx context.Context, entityID string) ([]*entities.Attribute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*entities.Attribute
	for _, attr := range r.s.attributes {
		if attr.EntityID == entityID {
			cp := *attr
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if (result[i].ParentAttributeID == "") != (result[j].ParentAttributeID == "") {
			return result[i].ParentAttributeID == ""
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *attributeRepo) CountByEntity(ctx context.Context, entityID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for _, attr := range r.s.attributes {
		if attr.EntityID == entityID {
			count++
		}
	}
	return count, nil
}

type relationshipRepo struct{ s *Store }

func (r *relationshipRepo) Create(ctx context.Context, rel *entities.Relationship, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *rel
	r.s.relationships[rel.ID] = &cp
	r.s.appendLocked(activity)
	return nil
}

func (r *relationshipRepo) Delete(ctx context.Context, id string, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.relationships[id]; !ok {
		return errors.Wrapf(entities.ErrNotFound, "relationship %s", id)
	}
	delete(r.s.relationships, id)
	r.s.appendLocked(activity)
	return nil
}

func (r *relationshipRepo) GetByID(ctx context.Context, id string) (*entities.Relationship, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rel, ok := r.s.relationships[id]
	if !ok {
		return nil, errors.Wrapf(entities.ErrNotFound, "relationship %s", id)
	}
	cp := *rel
	return &cp, nil
}

func (r *relationshipRepo) Query(ctx context.Context, filter *repositories.RelationshipFilter) ([]*entities.Relationship, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var parentSet map[string]struct{}
	if filter != nil && len(filter.ParentEntityIDs) > 0 {
		parentSet = make(map[string]struct{}, len(filter.ParentEntityIDs))
		for _, id := range filter.ParentEntityIDs {
			parentSet[id] = struct{}{}
		}
	}

	var result []*entities.Relationship
	for _, rel := range r.s.relationships {
		if filter != nil {
			if parentSet != nil {
				if _, ok := parentSet[rel.ParentEntityID]; !ok {
					continue
				}
			} else if filter.ParentEntityID != "" && rel.ParentEntityID != filter.ParentEntityID {
				continue
			}
			if filter.ChildEntityID != "" && rel.ChildEntityID != filter.ChildEntityID {
				continue
			}
			if filter.TypeID != "" && rel.TypeID != filter.TypeID {
				continue
			}
		}
		cp := *rel
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *relationshipRepo) CountInbound(ctx context.Context, childEntityID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for _, rel := range r.s.relationships {
		if rel.ChildEntityID == childEntityID {
			count++
		}
	}
	return count, nil
}

func (r *relationshipRepo) FilterParentsLinkedTo(ctx context.Context, typeID string, parentIDs []string, childID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	linked := make(map[string]struct{})
	for _, rel := range r.s.relationships {
		if rel.TypeID == typeID && rel.ChildEntityID == childID {
			linked[rel.ParentEntityID] = struct{}{}
		}
	}

	var result []string
	for _, id := range parentIDs {
		if _, ok := linked[id]; ok {
			result = append(result, id)
		}
	}
	return result, nil
}

func (r *relationshipRepo) ReportByType(ctx context.Context, parentIDs []string, ranges []entities.TimeRange) ([]*repositories.RelationshipReportRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	parentSet := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parentSet[id] = struct{}{}
	}

	counts := make(map[string]int64)
	for _, rel := range r.s.relationships {
		if _, ok := parentSet[rel.ParentEntityID]; !ok {
			continue
		}
		if !entities.InAnyRange(rel.CreatedAt, ranges) {
			continue
		}
		counts[rel.TypeID]++
	}

	var result []*repositories.RelationshipReportRow
	for typeID, count := range counts {
		result = append(result, &repositories.RelationshipReportRow{TypeID: typeID, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TypeID < result[j].TypeID })
	return result, nil
}

type activityRepo struct{ s *Store }

func (r *activityRepo) Append(ctx context.Context, activity *entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendLocked(activity)
	return nil
}

func (r *activityRepo) AppendAll(ctx context.Context, activities []*entities.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, activity := range activities {
		r.s.appendLocked(activity)
	}
	return nil
}

func (r *activityRepo) Query(ctx context.Context, filter *repositories.ActivityFilter) ([]*entities.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*entities.Activity
	for _, a := range r.s.activities {
		if filter != nil {
			if filter.EntityID != "" && a.EntityID != filter.EntityID {
				continue
			}
			if filter.ChangeType != "" && a.ChangeType != filter.ChangeType {
				continue
			}
			if filter.PerformedBy != "" && a.PerformedBy != filter.PerformedBy {
				continue
			}
			if filter.FailedOnly && !a.Failed() {
				continue
			}
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PerformedAt.After(result[j].PerformedAt) })
	return result, nil
}

func (r *activityRepo) ArchiveOlderThan(ctx context.Context, cutoff time.Time, archive bool) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept []*entities.Activity
	var moved int64
	for _, a := range r.s.activities {
		if a.PerformedAt.Before(cutoff) {
			if archive {
				r.s.archived = append(r.s.archived, a)
			}
			moved++
			continue
		}
		kept = append(kept, a)
	}
	r.s.activities = kept
	return moved, nil
}

func (r *activityRepo) Counts(ctx context.Context) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.activities)), int64(len(r.s.archived)), nil
}

func (r *activityRepo) Report(ctx context.Context, ranges []entities.TimeRange) ([]*repositories.ActivityReportRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	groups := make(map[string]*repositories.ActivityReportRow)
	for _, a := range r.s.activities {
		if !entities.InAnyRange(a.PerformedAt, ranges) {
			continue
		}
		row, ok := groups[a.ChangeType]
		if !ok {
			row = &repositories.ActivityReportRow{
				ChangeType:     a.ChangeType,
				MinPerformedAt: a.PerformedAt,
				MaxPerformedAt: a.PerformedAt,
			}
			groups[a.ChangeType] = row
		}
		row.Count++
		if a.Failed() {
			row.Failures++
		}
		if a.PerformedAt.Before(row.MinPerformedAt) {
			row.MinPerformedAt = a.PerformedAt
		}
		if a.PerformedAt.After(row.MaxPerformedAt) {
			row.MaxPerformedAt = a.PerformedAt
		}
	}

	var result []*repositories.ActivityReportRow
	for _, row := range groups {
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChangeType < result[j].ChangeType })
	return result, nil
}

type maskingRepo struct{ s *Store }

func (r *maskingRepo) Upsert(ctx context.Context, rule *entities.MaskingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *rule
	r.s.maskingRules[rule.TableRef+"/"+rule.FieldRef] = &cp
	return nil
}

func (r *maskingRepo) ListByTable(ctx context.Context, tableRef string) ([]*entities.MaskingRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*entities.MaskingRule
	for _, rule := range r.s.maskingRules {
		if rule.TableRef == tableRef {
			cp := *rule
			result = append(result, &cp)
		}
	}
	return result, nil
}

type capabilityRepo struct{ s *Store }

func (r *capabilityRepo) GetByUser(ctx context.Context, userID string) (entities.Capabilities, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.capabilities[userID], nil
}

// appendLocked adds an activity while the store mutex is held. Nil
// activities are tolerated so repository calls without audit records stay
// cheap in tests.
func (s *Store) appendLocked(activity *entities.Activity) {
	if activity == nil {
		return
	}
	cp := *activity
	s.activities = append(s.activities, &cp)
}

func sortedSummaries(groups map[string]*repositories.EntitySummaryRow) []*repositories.EntitySummaryRow {
	var result []*repositories.EntitySummaryRow
	for _, row := range groups {
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TypeID < result[j].TypeID })
	return result
}
