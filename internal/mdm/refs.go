package mdm

import (
	"fmt"

	"mdm/internal/governance"
)

func ref(kind governance.Kind, id, field string) string {
	return fmt.Sprintf("%s %s (%s)", kind, id, field)
}

func (s *Service) categoryRefs(id string) []string {
	var out []string
	for _, u := range s.Users.repo.List() {
		if contains(u.CategoryIDs, id) {
			out = append(out, ref(governance.KindUser, u.ID, "categoryIds"))
		}
	}
	for _, e := range s.Entities.repo.List() {
		if contains(e.CategoryIDs, id) {
			out = append(out, ref(governance.KindEntity, e.ID, "categoryIds"))
		}
	}
	return out
}

func (s *Service) geographyRefs(id string) []string {
	var out []string
	for _, u := range s.Users.repo.List() {
		if contains(u.GeographyIDs, id) {
			out = append(out, ref(governance.KindUser, u.ID, "geographyIds"))
		}
	}
	for _, e := range s.Entities.repo.List() {
		if contains(e.GeographyIDs, id) {
			out = append(out, ref(governance.KindEntity, e.ID, "geographyIds"))
		}
	}
	return out
}

func (s *Service) roleRefs(id string) []string {
	var out []string
	for _, u := range s.Users.repo.List() {
		if u.RoleID == id {
			out = append(out, ref(governance.KindUser, u.ID, "roleId"))
		}
	}
	for _, r := range s.Rules.repo.List() {
		if contains(r.AssignedRoles, id) {
			out = append(out, ref(governance.KindApprovalRule, r.ID, "assignedRoles"))
		}
	}
	return out
}

func (s *Service) userRefs(id string) []string {
	var out []string
	for _, r := range s.Rules.repo.List() {
		if contains(r.AssignedUsers, id) {
			out = append(out, ref(governance.KindApprovalRule, r.ID, "assignedUsers"))
		}
	}
	return out
}

func (s *Service) attributeRefs(id string) []string {
	var out []string
	for _, e := range s.Entities.repo.List() {
		if contains(e.AttributeIDs, id) {
			out = append(out, ref(governance.KindEntity, e.ID, "attributeIds"))
		}
	}
	for _, r := range s.Rules.repo.List() {
		for _, cond := range r.Conditions {
			if cond.AttributeID == id {
				out = append(out, ref(governance.KindApprovalRule, r.ID, "conditions"))
				break
			}
		}
	}
	return out
}
