package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS recipient_lists (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    rule        TEXT NOT NULL,
    anchor_date TEXT NOT NULL,
    send_hour   INTEGER NOT NULL,
    send_minute INTEGER NOT NULL,
    list_id     TEXT NOT NULL,
    template_id TEXT NOT NULL,
    days_back   INTEGER NOT NULL DEFAULT 30,
    item_count  INTEGER NOT NULL DEFAULT 10,
    last_sent   TEXT,
    next_send   TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(active, next_send);
`

const scheduleColumns = `
    id, name, rule, anchor_date, send_hour, send_minute,
    list_id, template_id, days_back, item_count,
    last_sent, next_send, active, created_at`

const queryInsertSchedule = `
INSERT INTO schedules (` + scheduleColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryGetSchedule = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE id = ?
`

const queryListSchedules = `
SELECT
    s.id, s.name, s.rule, s.anchor_date, s.send_hour, s.send_minute,
    s.list_id, s.template_id, s.days_back, s.item_count,
    s.last_sent, s.next_send, s.active, s.created_at,
    COALESCE(l.name, ''), COALESCE(t.name, '')
FROM schedules s
LEFT JOIN recipient_lists l ON s.list_id = l.id
LEFT JOIN templates t ON s.template_id = t.id
ORDER BY s.created_at DESC, s.id
`

const queryUpdateSchedule = `
UPDATE schedules
SET name = ?, rule = ?, anchor_date = ?, send_hour = ?, send_minute = ?,
    list_id = ?, template_id = ?, days_back = ?, item_count = ?, next_send = ?
WHERE id = ?
`

const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = ?
`

const querySetScheduleActive = `
UPDATE schedules SET active = ? WHERE id = ?
`

const queryRecordFire = `
UPDATE schedules SET last_sent = ?, next_send = ? WHERE id = ?
`

const queryActiveSchedules = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE active = 1
ORDER BY created_at, id
`

const queryInsertList = `
INSERT INTO recipient_lists (id, name, created_at) VALUES (?, ?, ?)
`

const queryListLists = `
SELECT id, name, created_at FROM recipient_lists ORDER BY created_at DESC, id
`

const queryListExists = `
SELECT 1 FROM recipient_lists WHERE id = ?
`

const queryInsertTemplate = `
INSERT INTO templates (id, name, created_at) VALUES (?, ?, ?)
`

const queryListTemplates = `
SELECT id, name, created_at FROM templates ORDER BY created_at DESC, id
`

const queryTemplateExists = `
SELECT 1 FROM templates WHERE id = ?
`
